package model

import "time"

// Shared defaults used by both the console and the dev backend.
const (
	DefaultGracePeriod    = 7 * time.Second
	DefaultTickInterval   = 1 * time.Second
	DefaultDebounceQuiet  = 500 * time.Millisecond
	DefaultPageSize       = 10
	DefaultStaleAfter     = 48 * time.Hour
	DefaultRequestTimeout = 30 * time.Second
)
