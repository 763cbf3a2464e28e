package chat

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Rooms tracks live channel membership for the current process. It is
// separate from the store's durable membership: live membership is lost on
// disconnect and re-established on rejoin.
type Rooms struct {
	mu       sync.RWMutex
	rooms    map[string]map[*Client]struct{}
	byClient map[*Client]map[string]struct{}
	logger   *slog.Logger
}

// NewRooms creates an empty room membership index.
func NewRooms(logger *slog.Logger) *Rooms {
	return &Rooms{
		rooms:    make(map[string]map[*Client]struct{}),
		byClient: make(map[*Client]map[string]struct{}),
		logger:   logger.With(slog.String("component", "rooms")),
	}
}

// Join records live membership, creating the room when absent. It reports
// whether the client was already a member, so callers can suppress duplicate
// notifications.
func (r *Rooms) Join(client *Client, channel string) (already bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[channel]
	if !ok {
		room = make(map[*Client]struct{})
		r.rooms[channel] = room
	}
	if _, member := room[client]; member {
		return true
	}
	room[client] = struct{}{}

	joined, ok := r.byClient[client]
	if !ok {
		joined = make(map[string]struct{})
		r.byClient[client] = joined
	}
	joined[channel] = struct{}{}

	r.logger.Debug("client joined room",
		slog.String("connID", client.id.String()),
		slog.String("channel", channel))
	return false
}

// Leave removes live membership. Leaving a room the client is not in is a
// no-op; the return value reports whether membership existed.
func (r *Rooms) Leave(client *Client, channel string) (wasMember bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(client, channel)
}

func (r *Rooms) leaveLocked(client *Client, channel string) bool {
	room, ok := r.rooms[channel]
	if !ok {
		return false
	}
	if _, member := room[client]; !member {
		return false
	}
	delete(room, client)
	if len(room) == 0 {
		delete(r.rooms, channel)
	}
	if joined, ok := r.byClient[client]; ok {
		delete(joined, channel)
		if len(joined) == 0 {
			delete(r.byClient, client)
		}
	}
	r.logger.Debug("client left room",
		slog.String("connID", client.id.String()),
		slog.String("channel", channel))
	return true
}

// LeaveAll removes the client from every room it is in and returns the
// channels it was a member of. Used during disconnect cleanup.
func (r *Rooms) LeaveAll(client *Client) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.byClient[client]
	if !ok {
		return nil
	}
	channels := lo.Keys(joined)
	sort.Strings(channels)
	for _, channel := range channels {
		r.leaveLocked(client, channel)
	}
	return channels
}

// IsMember reports whether the client has joined the channel in this
// session.
func (r *Rooms) IsMember(client *Client, channel string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	joined, ok := r.byClient[client]
	if !ok {
		return false
	}
	_, member := joined[channel]
	return member
}

// Members returns a snapshot of the clients currently in the channel.
func (r *Rooms) Members(channel string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[channel]
	if !ok {
		return nil
	}
	return lo.Keys(room)
}

// MemberNames returns the sorted nicknames of the channel's live members.
// Anonymous connections are skipped.
func (r *Rooms) MemberNames(channel string) []string {
	members := r.Members(channel)
	names := make([]string, 0, len(members))
	for _, client := range members {
		if nickname := client.Nickname(); nickname != "" {
			names = append(names, nickname)
		}
	}
	sort.Strings(names)
	return names
}

// Channels returns the channels the client is currently in, sorted.
func (r *Rooms) Channels(client *Client) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	joined, ok := r.byClient[client]
	if !ok {
		return nil
	}
	channels := lo.Keys(joined)
	sort.Strings(channels)
	return channels
}
