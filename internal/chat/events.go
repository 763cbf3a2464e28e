// Package chat implements the real-time session and messaging core: the
// connection registry, nickname negotiation, room membership, message
// fan-out, and presence notifications.
package chat

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// Client-to-server event names.
const (
	EventSetNickname        = "setNickname"
	EventChangeNickname     = "changeNickname"
	EventJoinChannel        = "joinChannel"
	EventLeaveChannel       = "leaveChannel"
	EventSendMessage        = "sendMessage"
	EventSendPrivateMessage = "sendPrivateMessage"
)

// Server-to-client event names.
const (
	EventNicknameSet       = "nicknameSet"
	EventError             = "error"
	EventChannelJoined     = "channelJoined"
	EventChannelLeft       = "channelLeft"
	EventNewMessage        = "newMessage"
	EventNewPrivateMessage = "newPrivateMessage"
	EventNotification      = "notification"
	EventUsersUpdated      = "usersUpdated"
	EventExistingMessages  = "existingMessages"
)

// Notification kinds carried by EventNotification.
const (
	KindUserJoined          = "userJoined"
	KindUserLeft            = "userLeft"
	KindNicknameChanged     = "nicknameChanged"
	KindChannelCreated      = "channelCreated"
	KindChannelDeleted      = "channelDeleted"
	KindChannelList         = "channelList"
	KindUserList            = "userList"
	KindPrivateMessageSaved = "privateMessageSaved"
)

// Frame is the envelope for every message on the wire, in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SetNicknamePayload claims a nickname for the connection.
type SetNicknamePayload struct {
	Nickname string `json:"nickname" validate:"required,nickname"`
}

// ChangeNicknamePayload replaces the connection's current nickname.
type ChangeNicknamePayload struct {
	OldNickname string `json:"oldNickname" validate:"required,nickname"`
	NewNickname string `json:"newNickname" validate:"required,nickname"`
}

// JoinChannelPayload joins a channel room.
type JoinChannelPayload struct {
	Channel string `json:"channel" validate:"required,channelname"`
}

// LeaveChannelPayload leaves a channel room.
type LeaveChannelPayload struct {
	Channel string `json:"channel" validate:"required,channelname"`
}

// SendMessagePayload sends a message to a channel the connection has joined.
// Channel may be empty when the content is a slash command, which carries its
// own target. CorrelationID is an opaque client token echoed back on the
// broadcast so the sender can reconcile its optimistically rendered copy.
type SendMessagePayload struct {
	Channel       string `json:"channel" validate:"omitempty,channelname"`
	Content       string `json:"content" validate:"required"`
	CorrelationID string `json:"correlationId" validate:"max=64"`
}

// SendPrivateMessagePayload sends a direct message to another nickname.
type SendPrivateMessagePayload struct {
	Recipient     string `json:"recipient" validate:"required,nickname"`
	Content       string `json:"content" validate:"required"`
	CorrelationID string `json:"correlationId" validate:"max=64"`
}

// AckPayload acknowledges a request, successful or not.
type AckPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorPayload reports a request failure to the offending connection only.
type ErrorPayload struct {
	Message string `json:"message"`
}

// MessagePayload is a delivered channel message.
type MessagePayload struct {
	Sender        string    `json:"sender"`
	Content       string    `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
	Channel       string    `json:"channel"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// PrivateMessagePayload is a delivered direct message.
type PrivateMessagePayload struct {
	Sender        string    `json:"sender"`
	Recipient     string    `json:"recipient"`
	Content       string    `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// NotificationPayload is a transient, non-persisted presence or state-change
// event.
type NotificationPayload struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// UsersUpdatedPayload carries the roster of currently connected nicknames.
type UsersUpdatedPayload struct {
	Nicknames []string `json:"nicknames"`
}

var (
	nicknameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)
	channelRe  = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("nickname", func(fl validator.FieldLevel) bool {
		return nicknameRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("channelname", func(fl validator.FieldLevel) bool {
		return channelRe.MatchString(fl.Field().String())
	})
	return v
}

// ValidNickname reports whether the nickname passes the format check.
func ValidNickname(nickname string) bool {
	return nicknameRe.MatchString(nickname)
}

// ValidChannelName reports whether the channel name passes the format check.
func ValidChannelName(name string) bool {
	return channelRe.MatchString(name)
}

// decodePayload unmarshals and validates an inbound payload at the protocol
// boundary, before any dispatch.
func decodePayload(data json.RawMessage, payload any) error {
	if err := json.Unmarshal(data, payload); err != nil {
		return err
	}
	return validate.Struct(payload)
}

// encodeFrame marshals a server-to-client frame. Payload types marshal
// without error; a failure here indicates a programming bug, so it panics
// rather than silently dropping the frame.
func encodeFrame(event string, payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	frame, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		panic(err)
	}
	return frame
}
