package store

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Option configures a local store backend.
type Option func(*options)

type options struct {
	now func() time.Time
	log zerolog.Logger
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock sets the source of commit timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger used for listener and I/O diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// newID returns a 32-character random document ID.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
