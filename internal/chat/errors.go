package chat

import "errors"

// Errors reported back to the requesting connection. They never affect other
// sessions; the per-request handler is the propagation boundary.
var (
	ErrNicknameInvalid  = errors.New("nickname must be 1-32 characters: letters, digits, '-' or '_'")
	ErrNicknameInUse    = errors.New("nickname is already in use by another user")
	ErrChannelInvalid   = errors.New("channel name must be 1-64 characters: letters, digits, '-' or '_'")
	ErrIdentityRequired = errors.New("please set a nickname first")
	ErrNotMember        = errors.New("you are not a member of this channel")
	ErrEmptyContent     = errors.New("message content must not be empty")
	ErrRecipientInvalid = errors.New("recipient nickname is invalid")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrPersistence      = errors.New("failed to save; message not delivered")
)
