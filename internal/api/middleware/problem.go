package middleware

import (
	"fmt"
	"net/http"

	gojson "github.com/goccy/go-json"
)

// ProblemTypeBase prefixes the RFC 7807 "type" URI of every error response.
const ProblemTypeBase = "https://propsync.io/problems/"

type problem struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail,omitempty"`
	Instance      string `json:"instance,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// writeRFC7807Error writes an application/problem+json response.
func writeRFC7807Error(w http.ResponseWriter, r *http.Request, status int, detail string) error {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	return gojson.NewEncoder(w).Encode(problem{
		Type:          fmt.Sprintf("%s%d", ProblemTypeBase, status),
		Title:         http.StatusText(status),
		Status:        status,
		Detail:        detail,
		Instance:      r.URL.Path,
		CorrelationID: GetCorrelationID(r.Context()),
	})
}
