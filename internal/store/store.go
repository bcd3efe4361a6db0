// Package store persists the latest OptimizationResult per quote.
//
// Every backend enforces the same sequence guard: a commit is accepted only
// when its sequence number is strictly greater than the committed one, so a
// slow run can never overwrite the result of a newer one.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/piwi3910/SlabQuote/internal/model"
)

// Store holds the committed layout per quote and allocates run sequences.
type Store interface {
	// Latest returns the committed result for a quote, or model.ErrNotFound.
	Latest(ctx context.Context, quoteID string) (model.OptimizationResult, error)

	// Commit replaces the committed result when result.Sequence is newer.
	// It returns model.ErrStaleWrite otherwise.
	Commit(ctx context.Context, result model.OptimizationResult) error

	// NextSequence returns the next run sequence for a quote. Sequences are
	// strictly increasing per quote and start at 1.
	NextSequence(ctx context.Context, quoteID string) (int64, error)

	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMySQL  = "mysql"
)

// Options selects and configures a backend.
type Options struct {
	Backend string

	// File backend
	Path string

	// Redis backend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// MySQL backend
	MySQLDSN string
}

// Open builds the configured backend. Network backends are pinged before
// they are returned.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		return NewFileStore(opts.Path)
	case BackendRedis:
		return DialRedis(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.RedisPrefix)
	case BackendMySQL:
		return OpenMySQL(ctx, opts.MySQLDSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

// validateCommit rejects results that cannot be keyed.
func validateCommit(result model.OptimizationResult) error {
	if result.QuoteID == "" {
		return model.NewInputError("result has no quote id")
	}
	if result.Sequence <= 0 {
		return model.NewInputError("result for %s has no sequence", result.QuoteID)
	}
	return nil
}

func storeError(cause error, format string, args ...any) error {
	return model.WrapError(model.CodeStore, cause, format, args...)
}
