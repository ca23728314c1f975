package syncer

import (
	"errors"
	"fmt"
	"time"

	"github.com/propsync-io/propsync/internal/config"
)

const (
	defaultFullLookback      = 365 * 24 * time.Hour
	defaultIncrementalWindow = 24 * time.Hour
	defaultErrorSampleSize   = 10
)

// ErrInvalidSyncConfig is returned by Config.Validate.
var ErrInvalidSyncConfig = errors.New("invalid sync configuration")

// Config controls report windows and pagination limits for sync runs.
type Config struct {
	// FullLookback is how far back dated reports reach in full mode without a custom range.
	FullLookback time.Duration

	// IncrementalWindow is the lookback used by an incremental run when the connection has
	// no completed run to continue from.
	IncrementalWindow time.Duration

	// MaxPages caps pages fetched per resource. Zero means no cap.
	MaxPages int

	// ErrorSampleSize is how many error lines the run summary keeps before "... and N more".
	ErrorSampleSize int
}

// LoadConfig reads PROPSYNC_SYNC_* environment variables.
//
// Environment variables:
//   - PROPSYNC_SYNC_FULL_LOOKBACK: full-mode window for dated reports (default: 8760h)
//   - PROPSYNC_SYNC_INCREMENTAL_WINDOW: first incremental window (default: 24h)
//   - PROPSYNC_SYNC_MAX_PAGES: page cap per resource, 0 for none (default: 0)
//   - PROPSYNC_SYNC_ERROR_SAMPLE: error lines kept in the run summary (default: 10)
func LoadConfig() Config {
	return Config{
		FullLookback:      config.GetEnvDuration("PROPSYNC_SYNC_FULL_LOOKBACK", defaultFullLookback),
		IncrementalWindow: config.GetEnvDuration("PROPSYNC_SYNC_INCREMENTAL_WINDOW", defaultIncrementalWindow),
		MaxPages:          config.GetEnvInt("PROPSYNC_SYNC_MAX_PAGES", 0),
		ErrorSampleSize:   config.GetEnvInt("PROPSYNC_SYNC_ERROR_SAMPLE", defaultErrorSampleSize),
	}
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		FullLookback:      defaultFullLookback,
		IncrementalWindow: defaultIncrementalWindow,
		ErrorSampleSize:   defaultErrorSampleSize,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.FullLookback <= 0 {
		return fmt.Errorf("%w: full lookback must be positive", ErrInvalidSyncConfig)
	}

	if c.IncrementalWindow <= 0 {
		return fmt.Errorf("%w: incremental window must be positive", ErrInvalidSyncConfig)
	}

	if c.MaxPages < 0 {
		return fmt.Errorf("%w: max pages cannot be negative", ErrInvalidSyncConfig)
	}

	if c.ErrorSampleSize < 1 {
		return fmt.Errorf("%w: error sample size must be at least 1", ErrInvalidSyncConfig)
	}

	return nil
}
