// Package store defines the contract between the importer and a destination list backend.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andys/listimport/schema"
)

// ErrAuth is returned when the destination rejects the supplied credentials
var ErrAuth = errors.New("authentication failed")

// Credentials identify the application to the destination
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Item is one destination item ready to be created, keyed by field name
type Item map[string]interface{}

// ItemResult is the outcome of creating a single item.
// Results are returned in submission order.
type ItemResult struct {
	ID  int64
	Err error
}

// TimestampUpdate overwrites the created/modified values of an existing item.
// A zero time leaves that value unchanged.
type TimestampUpdate struct {
	ID       int64
	Created  time.Time
	Modified time.Time
}

// Session is an open connection to a destination site
type Session interface {
	// ListFields returns the columns of a list
	ListFields(ctx context.Context, list string) ([]schema.Field, error)

	// CreateItems creates all items in a single remote transaction.
	// A non-nil error means the batch as a whole failed.
	CreateItems(ctx context.Context, list string, items []Item) ([]ItemResult, error)

	// OverwriteTimestamps applies created/modified values without bumping
	// the items' version, in a single remote transaction.
	OverwriteTimestamps(ctx context.Context, list string, updates []TimestampUpdate) error

	Close() error
}

// RateLimitError is returned when the destination rejects a request for exceeding its rate limit
type RateLimitError struct {
	RetryAfter time.Duration // Zero when the destination gave no hint
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err is, or wraps, a rate limit rejection
func IsRateLimited(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
