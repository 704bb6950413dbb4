package interfaces

import "context"

// -----------------------------------------------------------------------------
// QuoteStore is the external KV + sorted-set store named in spec §6
// ("Persistence interface"). It is best-effort and never on the critical
// delivery path (spec §7): callers must treat every error as loggable, not
// fatal.
// -----------------------------------------------------------------------------

type QuoteStore interface {
	// SaveLatest mirrors SET <instrument> <quote_json>.
	SaveLatest(ctx context.Context, instrumentID string, quoteJSON []byte) error

	// AppendHistory mirrors ZADD history:<instrument> <timestamp_ms>
	// <quote_json>, trimming scores older than the retention window once the
	// set holds the member limit or more (ZCARD / ZREMRANGEBYSCORE).
	AppendHistory(ctx context.Context, instrumentID string, timestampMs int64, quoteJSON []byte) error

	Close() error
}
