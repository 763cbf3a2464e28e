package chat

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Registry maps live connections to claimed nicknames and back. It enforces
// nickname uniqueness among connected clients; durable user records are the
// store's concern. All operations are atomic with respect to each other, so
// a check-then-bind can never race another claim.
type Registry struct {
	mu     sync.RWMutex
	byConn map[uuid.UUID]string
	byNick map[string]*Client
	logger *slog.Logger
}

// NewRegistry creates an empty identity registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		byConn: make(map[uuid.UUID]string),
		byNick: make(map[string]*Client),
		logger: logger.With(slog.String("component", "registry")),
	}
}

// Claim binds nickname to the client, releasing any nickname the client held
// before. Claiming the nickname the client already holds succeeds with no
// side effects. The previous nickname is returned so callers can update the
// durable record; rebound reports whether the binding actually changed.
func (r *Registry) Claim(client *Client, nickname string) (previous string, rebound bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.byConn[client.id]
	if current == nickname {
		return current, false, nil
	}
	if holder, taken := r.byNick[nickname]; taken && holder != client {
		return "", false, ErrNicknameInUse
	}

	if current != "" {
		delete(r.byNick, current)
	}
	r.byConn[client.id] = nickname
	r.byNick[nickname] = client
	client.setNickname(nickname)

	r.logger.Debug("nickname claimed",
		slog.String("connID", client.id.String()),
		slog.String("nickname", nickname))
	return current, true, nil
}

// Rollback undoes a claim that could not be persisted, restoring the
// previous binding if there was one. The previous nickname may have been
// reclaimed by another connection while the store write was in flight; in
// that case the client goes back to anonymous instead of displacing the new
// holder.
func (r *Registry) Rollback(client *Client, nickname, previous string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byNick[nickname] != client {
		return
	}
	delete(r.byNick, nickname)
	if previous != "" {
		if holder, taken := r.byNick[previous]; !taken || holder == client {
			r.byConn[client.id] = previous
			r.byNick[previous] = client
			client.setNickname(previous)
			return
		}
	}
	delete(r.byConn, client.id)
	client.setNickname("")
}

// Release removes the client's binding if present. It is idempotent and is
// called on disconnect.
func (r *Registry) Release(client *Client) (nickname string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nickname, ok = r.byConn[client.id]
	if !ok {
		return "", false
	}
	delete(r.byConn, client.id)
	delete(r.byNick, nickname)
	client.setNickname("")

	r.logger.Debug("nickname released",
		slog.String("connID", client.id.String()),
		slog.String("nickname", nickname))
	return nickname, true
}

// Resolve returns the live client holding nickname, used to route private
// messages.
func (r *Registry) Resolve(nickname string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.byNick[nickname]
	return client, ok
}

// Roster returns the sorted set of currently connected nicknames.
func (r *Registry) Roster() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nicknames := lo.Keys(r.byNick)
	sort.Strings(nicknames)
	return nicknames
}
