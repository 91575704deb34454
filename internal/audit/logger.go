// Package audit appends immutable access-log entries. Writes are
// fire-and-forget relative to the request path; a failed append must
// never fail the protocol operation that produced it.
package audit

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/org/datavault/internal/storage"
	"github.com/org/datavault/pkg/models"
	"github.com/rs/zerolog/log"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newLogID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Logger writes access-log entries.
type Logger struct {
	store storage.Store
}

// NewLogger creates an audit Logger.
func NewLogger(store storage.Store) *Logger {
	return &Logger{store: store}
}

// Record appends one entry. Decrypted values must NEVER be passed here,
// only field names and descriptions.
func (l *Logger) Record(ctx context.Context, entry *models.AccessLog) {
	entry.LogID = newLogID()
	entry.Timestamp = time.Now().UTC()
	if err := l.store.AppendAccessLog(ctx, entry); err != nil {
		log.Error().Err(err).
			Str("action", string(entry.Action)).
			Str("user_id", entry.UserID).
			Msg("failed to append access log")
	}
}

// ForUser returns a user's most recent entries, newest first.
func (l *Logger) ForUser(ctx context.Context, userID string, limit int) ([]*models.AccessLog, error) {
	return l.store.ListAccessLogs(ctx, userID, limit)
}
