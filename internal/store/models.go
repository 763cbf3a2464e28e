// Package store implements the persistent collaborator for the chat core:
// users, channels, durable channel membership, and message history, backed
// by SQLite through GORM.
package store

import (
	"time"

	"gorm.io/gorm"
)

// User is the durable record of a nickname that has been claimed at least
// once. Live connection state is never persisted.
type User struct {
	ID        string         `gorm:"primarykey;size:36" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Nickname  string         `gorm:"uniqueIndex;size:32;not null" json:"nickname"`
}

// TableName returns the table name for the User model.
func (User) TableName() string {
	return "users"
}

// Channel is the durable channel record. Live room membership is tracked
// separately by the chat core and lost on disconnect.
type Channel struct {
	ID        string         `gorm:"primarykey;size:36" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Name      string         `gorm:"uniqueIndex;size:64;not null" json:"name"`
}

// TableName returns the table name for the Channel model.
func (Channel) TableName() string {
	return "channels"
}

// Membership records that a user has joined a channel at some point. It is
// the durable counterpart of live room membership.
type Membership struct {
	ID          uint      `gorm:"primarykey" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	ChannelName string    `gorm:"uniqueIndex:idx_channel_nickname;size:64;not null" json:"channel"`
	Nickname    string    `gorm:"uniqueIndex:idx_channel_nickname;size:32;not null" json:"nickname"`
}

// TableName returns the table name for the Membership model.
func (Membership) TableName() string {
	return "channel_members"
}

// Message is one persisted chat message. Exactly one of Channel and
// Recipient is set: Channel for room messages, Recipient for private ones.
// CorrelationID is the opaque client token echoed back on delivery; it is
// stored but never validated for uniqueness.
type Message struct {
	ID            string    `gorm:"primarykey;size:36" json:"id"`
	Sender        string    `gorm:"index;size:32;not null" json:"sender"`
	Channel       *string   `gorm:"index;size:64" json:"channel,omitempty"`
	Recipient     *string   `gorm:"index;size:32" json:"recipient,omitempty"`
	Content       string    `gorm:"size:4096;not null" json:"content"`
	CorrelationID string    `gorm:"size:64" json:"correlationId,omitempty"`
	Timestamp     time.Time `gorm:"index;not null" json:"timestamp"`
}

// TableName returns the table name for the Message model.
func (Message) TableName() string {
	return "messages"
}
