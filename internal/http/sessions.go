package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"kpiprogress/internal/cache"
	"kpiprogress/internal/core"
	applog "kpiprogress/internal/log"
)

// sessionEntry guards one open editing session. A core.Session is not safe
// for concurrent use, so every access goes through mu.
type sessionEntry struct {
	mu       sync.Mutex
	id       string
	session  *core.Session
	openedAt time.Time
}

// sessionRegistry keeps open sessions in an LRU cache. Entries idle for
// longer than the TTL, or pushed out by newer sessions, are closed.
type sessionRegistry struct {
	sessions *cache.LRUCache[*sessionEntry]
	logger   *applog.Logger
}

func newSessionRegistry(maxSessions int, ttl time.Duration, logger *applog.Logger) *sessionRegistry {
	reg := &sessionRegistry{logger: logger.WithComponent(applog.ComponentSession)}
	reg.sessions = cache.NewLRUCache[*sessionEntry](maxSessions, ttl).OnEvict(reg.closed)
	return reg
}

func (r *sessionRegistry) add(sess *core.Session) *sessionEntry {
	entry := &sessionEntry{id: newSessionID(), session: sess, openedAt: time.Now()}
	r.sessions.Set(entry.id, entry)
	return entry
}

func (r *sessionRegistry) get(id string) (*sessionEntry, error) {
	entry, ok := r.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errSessionNotFound, id)
	}
	return entry, nil
}

// close discards the session and its pending edits.
func (r *sessionRegistry) close(id string) bool {
	return r.sessions.Remove(id)
}

func (r *sessionRegistry) size() int {
	return r.sessions.Size()
}

func (r *sessionRegistry) closed(id string, entry *sessionEntry) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	dirty := entry.session.Dirty()
	if err := entry.session.Reset(); err != nil {
		r.logger.Warn("Session reset on close failed", applog.FieldSessionID, id, applog.FieldError, err)
	}
	fields := applog.NewFields().
		WithSession(id, entry.session.ParentRef(), entry.session.SelectedYear()).
		WithOperation(applog.OpClose)
	fields["discarded_edits"] = dirty
	fields["open_for"] = time.Since(entry.openedAt).Round(time.Second).String()
	r.logger.InfoContext(context.Background(), "Editing session closed", fields.ToSlice()...)
}

func newSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("s_%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
