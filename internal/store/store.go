package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a user, channel, or message does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when a uniqueness constraint is violated, such as
// creating a user whose nickname is already taken.
var ErrDuplicate = errors.New("record already exists")

// Store provides access to the durable chat records.
type Store struct {
	db *gorm.DB
}

// Open creates a Store backed by the SQLite database at path and migrates
// the schema. Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&User{}, &Channel{}, &Membership{}, &Message{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing gorm handle. The schema must already be
// migrated; tests use this with an in-memory database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- Users ---

// CreateUser persists a new user record for the given nickname.
func (s *Store) CreateUser(ctx context.Context, nickname string) (*User, error) {
	user := &User{ID: uuid.New().String(), Nickname: nickname}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// FindUserByNickname retrieves a user by nickname.
func (s *Store) FindUserByNickname(ctx context.Context, nickname string) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).First(&user, "nickname = ?", nickname).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

// UpdateUserNickname renames a user. Durable channel memberships follow the
// rename so that rejoin history stays attached to the new nickname.
func (s *Store) UpdateUserNickname(ctx context.Context, oldNickname, newNickname string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, "nickname = ?", oldNickname).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := tx.Model(&user).Update("nickname", newNickname).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicate
			}
			return err
		}
		return tx.Model(&Membership{}).
			Where("nickname = ?", oldNickname).
			Update("nickname", newNickname).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to rename user: %w", err)
	}
	user.Nickname = newNickname
	return &user, nil
}

// ListUsers returns all users, optionally filtered by a case-insensitive
// nickname substring search.
func (s *Store) ListUsers(ctx context.Context, search string) ([]User, error) {
	var users []User
	query := s.db.WithContext(ctx).Order("nickname asc")
	if search != "" {
		query = query.Where("nickname LIKE ?", "%"+search+"%")
	}
	if err := query.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// --- Channels ---

// CreateChannel persists a new channel record.
func (s *Store) CreateChannel(ctx context.Context, name string) (*Channel, error) {
	channel := &Channel{ID: uuid.New().String(), Name: name}
	if err := s.db.WithContext(ctx).Create(channel).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	return channel, nil
}

// FindChannelByName retrieves a channel by its canonical name.
func (s *Store) FindChannelByName(ctx context.Context, name string) (*Channel, error) {
	var channel Channel
	if err := s.db.WithContext(ctx).First(&channel, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find channel: %w", err)
	}
	return &channel, nil
}

// FindChannelByID retrieves a channel by its identifier.
func (s *Store) FindChannelByID(ctx context.Context, id string) (*Channel, error) {
	var channel Channel
	if err := s.db.WithContext(ctx).First(&channel, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find channel: %w", err)
	}
	return &channel, nil
}

// EnsureChannel returns the channel with the given name, creating the record
// when absent. Joins use this so that joining an unknown channel creates it.
func (s *Store) EnsureChannel(ctx context.Context, name string) (*Channel, error) {
	channel, err := s.FindChannelByName(ctx, name)
	if err == nil {
		return channel, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	channel, err = s.CreateChannel(ctx, name)
	if errors.Is(err, ErrDuplicate) {
		// Lost a create race; the other writer's record is fine.
		return s.FindChannelByName(ctx, name)
	}
	return channel, err
}

// ListChannels returns all channels, optionally filtered by a name
// substring search.
func (s *Store) ListChannels(ctx context.Context, search string) ([]Channel, error) {
	var channels []Channel
	query := s.db.WithContext(ctx).Order("name asc")
	if search != "" {
		query = query.Where("name LIKE ?", "%"+search+"%")
	}
	if err := query.Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return channels, nil
}

// RenameChannel changes a channel's name and moves its durable memberships
// with it. Persisted messages keep the name they were sent under.
func (s *Store) RenameChannel(ctx context.Context, oldName, newName string) (*Channel, error) {
	var channel Channel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&channel, "name = ?", oldName).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := tx.Model(&channel).Update("name", newName).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicate
			}
			return err
		}
		return tx.Model(&Membership{}).
			Where("channel_name = ?", oldName).
			Update("channel_name", newName).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to rename channel: %w", err)
	}
	channel.Name = newName
	return &channel, nil
}

// DeleteChannel removes a channel record and its durable memberships.
func (s *Store) DeleteChannel(ctx context.Context, name string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&Channel{}, "name = ?", name)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Delete(&Membership{}, "channel_name = ?", name).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete channel: %w", err)
	}
	return nil
}

// --- Durable membership ---

// AddUserToChannel records durable membership. Adding an existing member is
// a no-op.
func (s *Store) AddUserToChannel(ctx context.Context, nickname, channelName string) error {
	membership := Membership{ChannelName: channelName, Nickname: nickname}
	err := s.db.WithContext(ctx).
		Where("channel_name = ? AND nickname = ?", channelName, nickname).
		FirstOrCreate(&membership).Error
	if err != nil {
		return fmt.Errorf("failed to add user to channel: %w", err)
	}
	return nil
}

// RemoveUserFromChannel deletes durable membership. Removing a non-member is
// a no-op.
func (s *Store) RemoveUserFromChannel(ctx context.Context, nickname, channelName string) error {
	err := s.db.WithContext(ctx).
		Delete(&Membership{}, "channel_name = ? AND nickname = ?", channelName, nickname).Error
	if err != nil {
		return fmt.Errorf("failed to remove user from channel: %w", err)
	}
	return nil
}

// ChannelMembers returns the nicknames durably recorded as members of a
// channel, sorted for stable output.
func (s *Store) ChannelMembers(ctx context.Context, channelName string) ([]string, error) {
	var nicknames []string
	err := s.db.WithContext(ctx).Model(&Membership{}).
		Where("channel_name = ?", channelName).
		Order("nickname asc").
		Pluck("nickname", &nicknames).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list channel members: %w", err)
	}
	return nicknames, nil
}

// --- Messages ---

// CreateMessage persists a message envelope, assigning its identifier and
// server timestamp. The envelope must carry either a channel or a recipient.
func (s *Store) CreateMessage(ctx context.Context, message *Message) (*Message, error) {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(message).Error; err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return message, nil
}

// FindMessagesByChannel returns up to limit of the most recent messages for
// a channel, oldest first. A non-positive limit returns everything.
func (s *Store) FindMessagesByChannel(ctx context.Context, channelName string, limit int) ([]Message, error) {
	var messages []Message
	query := s.db.WithContext(ctx).
		Where("channel = ?", channelName).
		Order("timestamp desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to find channel messages: %w", err)
	}
	reverse(messages)
	return messages, nil
}

// FindPrivateMessages returns the private conversation between two users in
// either direction, oldest first.
func (s *Store) FindPrivateMessages(ctx context.Context, userA, userB string) ([]Message, error) {
	var messages []Message
	err := s.db.WithContext(ctx).
		Where("(sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)",
			userA, userB, userB, userA).
		Order("timestamp asc").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find private messages: %w", err)
	}
	return messages, nil
}

func reverse(messages []Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
