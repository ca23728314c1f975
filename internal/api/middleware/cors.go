package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORSPolicy lists what cross-origin callers may do. MaxAge is in seconds.
type CORSPolicy struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

// CORS handles preflight requests and sets the Access-Control headers.
func CORS(policy CORSPolicy) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: policy.AllowedOrigins,
		AllowedMethods: policy.AllowedMethods,
		AllowedHeaders: policy.AllowedHeaders,
		ExposedHeaders: []string{CorrelationIDHeader, "Retry-After"},
		MaxAge:         policy.MaxAge,
	})
}
