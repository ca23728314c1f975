package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/propsync-io/propsync/internal/config"
	"github.com/propsync-io/propsync/internal/ingestion"
)

const maxLastErrorLength = 2000

var (
	// ErrConnectionNameRequired is returned when creating a connection without a name.
	ErrConnectionNameRequired = errors.New("connection name is required")

	_ ingestion.ConnectionStore = (*ConnectionStore)(nil)
)

// ConnectionStore persists API connections. Client secrets are sealed with a SecretBox
// before they reach the database and opened on read.
type ConnectionStore struct {
	conn   *Connection
	box    *SecretBox
	logger *slog.Logger
}

// NewConnectionStore creates a connection store.
func NewConnectionStore(conn *Connection, box *SecretBox) (*ConnectionStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	if box == nil {
		return nil, ErrInvalidSecretKey
	}

	return &ConnectionStore{
		conn: conn,
		box:  box,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// CreateConnection stores a new connection and sets its ID.
func (s *ConnectionStore) CreateConnection(ctx context.Context, c *ingestion.Connection) error {
	if c == nil || c.Name == "" {
		return ErrConnectionNameRequired
	}

	sealed, err := s.box.Encrypt(c.ClientSecret)
	if err != nil {
		return fmt.Errorf("failed to seal client secret: %w", err)
	}

	query := `
		INSERT INTO api_connections (name, base_url, client_id, client_secret_encrypted)
		VALUES ($1, $2, $3, $4)
		RETURNING id, status
	`

	if err := s.conn.QueryRowContext(ctx, query, c.Name, c.BaseURL, c.ClientID, sealed).Scan(&c.ID, &c.Status); err != nil {
		return fmt.Errorf("failed to create connection %q: %w", c.Name, err)
	}

	s.logger.Info("API connection created",
		slog.Int64("connection_id", c.ID),
		slog.String("name", c.Name))

	return nil
}

// GetConnection loads a connection with its decrypted client secret.
func (s *ConnectionStore) GetConnection(ctx context.Context, id int64) (*ingestion.Connection, error) {
	query := `
		SELECT id, name, base_url, client_id, client_secret_encrypted, status,
		       COALESCE(last_error, ''), last_success_at
		FROM api_connections
		WHERE id = $1
	`

	var (
		c        ingestion.Connection
		sealed   string
		lastSync sql.NullTime
	)

	err := s.conn.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.BaseURL, &c.ClientID, &sealed, &c.Status, &c.LastError, &lastSync,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ingestion.ErrConnectionNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load connection %d: %w", id, err)
	}

	secret, err := s.box.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("connection %d: %w", id, err)
	}

	c.ClientSecret = secret
	c.LastSyncAt = timePtr(lastSync)

	return &c, nil
}

// MarkConnectionSuccess records a healthy API exchange and clears the last error.
func (s *ConnectionStore) MarkConnectionSuccess(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE api_connections
		SET status = 'connected', last_error = NULL, last_success_at = $2, updated_at = NOW()
		WHERE id = $1
	`

	return s.execForConnection(ctx, id, query, id, at)
}

// MarkConnectionError records a failed API exchange.
func (s *ConnectionStore) MarkConnectionError(ctx context.Context, id int64, message string, at time.Time) error {
	if len(message) > maxLastErrorLength {
		message = message[:maxLastErrorLength]
	}

	query := `
		UPDATE api_connections
		SET status = 'error', last_error = $2, last_error_at = $3, updated_at = NOW()
		WHERE id = $1
	`

	return s.execForConnection(ctx, id, query, id, message, at)
}

func (s *ConnectionStore) execForConnection(ctx context.Context, id int64, query string, args ...any) error {
	result, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update connection %d: %w", id, err)
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %d", ingestion.ErrConnectionNotFound, id)
	}

	return nil
}
