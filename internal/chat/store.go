package chat

import (
	"context"

	"github.com/Mahmoud-Mh/IRC/internal/store"
)

// Store is the narrow persistence interface the core depends on. Writes are
// awaited before any fan-out so a persistence failure short-circuits
// delivery.
type Store interface {
	CreateUser(ctx context.Context, nickname string) (*store.User, error)
	FindUserByNickname(ctx context.Context, nickname string) (*store.User, error)
	UpdateUserNickname(ctx context.Context, oldNickname, newNickname string) (*store.User, error)
	EnsureChannel(ctx context.Context, name string) (*store.Channel, error)
	ListChannels(ctx context.Context, search string) ([]store.Channel, error)
	AddUserToChannel(ctx context.Context, nickname, channelName string) error
	RemoveUserFromChannel(ctx context.Context, nickname, channelName string) error
	CreateMessage(ctx context.Context, message *store.Message) (*store.Message, error)
	FindMessagesByChannel(ctx context.Context, channelName string, limit int) ([]store.Message, error)
	FindPrivateMessages(ctx context.Context, userA, userB string) ([]store.Message, error)
}

// compile-time check that the SQLite store satisfies the core's interface.
var _ Store = (*store.Store)(nil)
