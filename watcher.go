package claimpool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgxlisten"

	"github.com/claimpool/claimpool/internal/pgstore"
)

// ClaimEvent describes one successful claim commit against a pool.
type ClaimEvent struct {
	PoolID  string
	Cursor  int64
	Version int64
	Count   int
}

// Watcher surfaces claim events over PostgreSQL LISTEN/NOTIFY. Every
// successful claim publishes a notification inside its committing
// transaction, so subscribers observe cursor advances in commit order.
// Only the PostgreSQL store emits events.
type Watcher struct {
	listener *pgxlisten.Listener

	mu      sync.Mutex
	subs    map[string]map[int]chan ClaimEvent
	nextSub int
}

// NewWatcher creates a Watcher on top of the given connection pool's
// configuration. The watcher opens its own dedicated connection for
// listening; call Listen to start it.
func NewWatcher(pool *pgxpool.Pool) *Watcher {
	w := &Watcher{subs: make(map[string]map[int]chan ClaimEvent)}
	w.listener = &pgxlisten.Listener{
		Connect: func(ctx context.Context) (*pgx.Conn, error) {
			config := pool.Config().ConnConfig.Copy()
			return pgx.ConnectConfig(ctx, config)
		},
	}
	w.listener.Handle(pgstore.NotifyChannel, pgxlisten.HandlerFunc(w.handleNotification))
	return w
}

// Listen connects and processes notifications until ctx is done. It blocks;
// run it in its own goroutine.
func (w *Watcher) Listen(ctx context.Context) error {
	return w.listener.Listen(ctx)
}

// Subscribe registers interest in claim events for poolID. Events are
// delivered on the returned channel, which is buffered with the given
// capacity; events are dropped rather than blocking the listener when the
// subscriber falls behind. The returned cancel function unregisters the
// subscription and closes the channel.
func (w *Watcher) Subscribe(poolID string, buffer int) (<-chan ClaimEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan ClaimEvent, buffer)

	w.mu.Lock()
	if w.subs[poolID] == nil {
		w.subs[poolID] = make(map[int]chan ClaimEvent)
	}
	id := w.nextSub
	w.nextSub++
	w.subs[poolID][id] = ch
	w.mu.Unlock()

	cancel := func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if _, ok := w.subs[poolID][id]; !ok {
			return
		}
		delete(w.subs[poolID], id)
		if len(w.subs[poolID]) == 0 {
			delete(w.subs, poolID)
		}
		close(ch)
	}
	return ch, cancel
}

// handleNotification implements the pgxlisten handler for claim commits.
func (w *Watcher) handleNotification(ctx context.Context, notification *pgconn.Notification, _ *pgx.Conn) error {
	var note pgstore.ClaimNotification
	if err := json.Unmarshal([]byte(notification.Payload), &note); err != nil {
		return fmt.Errorf("malformed claim notification %q: %w", notification.Payload, err)
	}

	event := ClaimEvent{
		PoolID:  note.PoolID,
		Cursor:  note.Cursor,
		Version: note.Version,
		Count:   note.Count,
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.subs[event.PoolID] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}
