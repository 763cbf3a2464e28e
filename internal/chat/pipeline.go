package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Mahmoud-Mh/IRC/internal/store"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// dispatch validates the inbound frame shape and routes it to the matching
// operation. Every error is terminated here: it is reported to the offending
// connection only and never affects other sessions.
func (h *Hub) dispatch(client *Client, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.sendError(client, "malformed frame")
		return
	}

	switch frame.Event {
	case EventSetNickname:
		h.handleSetNickname(client, frame.Data)
	case EventChangeNickname:
		h.handleChangeNickname(client, frame.Data)
	case EventJoinChannel:
		h.handleJoinChannel(client, frame.Data)
	case EventLeaveChannel:
		h.handleLeaveChannel(client, frame.Data)
	case EventSendMessage:
		h.handleSendMessage(client, frame.Data)
	case EventSendPrivateMessage:
		h.handleSendPrivateMessage(client, frame.Data)
	default:
		h.sendError(client, fmt.Sprintf("unknown event %q", frame.Event))
	}
}

// claimNickname runs the full identity negotiation: atomic live-registry
// bind, then durable record creation or rename, rolling the bind back if the
// store write fails. A nickname persisted in the store but with no live
// connection may be reclaimed; nicknames are not authenticated identities.
func (h *Hub) claimNickname(client *Client, nickname string) error {
	previous, rebound, err := h.registry.Claim(client, nickname)
	if err != nil {
		return err
	}
	if !rebound {
		// Idempotent re-claim of the nickname this connection already holds.
		return nil
	}

	migrated := false
	if _, err := h.store.FindUserByNickname(h.ctx, nickname); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.registry.Rollback(client, nickname, previous)
			h.logger.Error("failed to look up user", slog.String("nickname", nickname), slog.Any("error", err))
			return ErrPersistence
		}
		if previous != "" {
			_, err = h.store.UpdateUserNickname(h.ctx, previous, nickname)
			if err == nil {
				migrated = true
			} else if errors.Is(err, store.ErrNotFound) {
				_, err = h.store.CreateUser(h.ctx, nickname)
			}
		} else {
			_, err = h.store.CreateUser(h.ctx, nickname)
		}
		if err != nil && !errors.Is(err, store.ErrDuplicate) {
			h.registry.Rollback(client, nickname, previous)
			h.logger.Error("failed to persist user", slog.String("nickname", nickname), slog.Any("error", err))
			return ErrPersistence
		}
	}

	// When the rename did not run through UpdateUserNickname (the target
	// nickname already had a durable record), the membership rows written
	// under the previous nickname must still follow the client, or leave and
	// disconnect cleanup could never remove them.
	if previous != "" && !migrated {
		for _, channel := range h.rooms.Channels(client) {
			if err := h.store.RemoveUserFromChannel(h.ctx, previous, channel); err != nil {
				h.logger.Warn("failed to move membership off previous nickname",
					slog.String("nickname", previous),
					slog.String("channel", channel),
					slog.Any("error", err))
			}
			if err := h.store.AddUserToChannel(h.ctx, nickname, channel); err != nil {
				h.logger.Warn("failed to record membership under new nickname",
					slog.String("nickname", nickname),
					slog.String("channel", channel),
					slog.Any("error", err))
			}
		}
	}

	if previous != "" {
		h.Notify(KindNicknameChanged, fmt.Sprintf("%s is now known as %s.", previous, nickname))
	}
	h.broadcastRoster()
	return nil
}

func (h *Hub) handleSetNickname(client *Client, data json.RawMessage) {
	var payload SetNicknamePayload
	if err := decodePayload(data, &payload); err != nil {
		h.sendError(client, ErrNicknameInvalid.Error())
		return
	}
	if err := h.claimNickname(client, payload.Nickname); err != nil {
		h.sendError(client, err.Error())
		return
	}
	h.sendAck(client, EventNicknameSet, fmt.Sprintf("Nickname set to %s", payload.Nickname))
}

func (h *Hub) handleChangeNickname(client *Client, data json.RawMessage) {
	var payload ChangeNicknamePayload
	if err := decodePayload(data, &payload); err != nil {
		h.sendError(client, ErrNicknameInvalid.Error())
		return
	}
	if client.Nickname() != payload.OldNickname {
		h.sendError(client, "oldNickname does not match your current nickname")
		return
	}
	if err := h.claimNickname(client, payload.NewNickname); err != nil {
		h.sendError(client, err.Error())
		return
	}
	h.sendAck(client, EventNicknameSet, fmt.Sprintf("Nickname set to %s", payload.NewNickname))
}

func (h *Hub) handleJoinChannel(client *Client, data json.RawMessage) {
	var payload JoinChannelPayload
	if err := decodePayload(data, &payload); err != nil {
		h.sendError(client, ErrChannelInvalid.Error())
		return
	}
	h.joinChannel(client, payload.Channel)
}

// joinChannel resolves the channel record (creating it when absent), records
// live and durable membership, sends the room history to the joining client,
// and announces the join. Rejoining a channel already joined acknowledges
// without duplicate notifications.
func (h *Hub) joinChannel(client *Client, channel string) {
	nickname := client.Nickname()
	if nickname == "" {
		h.sendError(client, ErrIdentityRequired.Error())
		return
	}

	if _, err := h.store.EnsureChannel(h.ctx, channel); err != nil {
		h.logger.Error("failed to resolve channel", slog.String("channel", channel), slog.Any("error", err))
		h.sendError(client, ErrPersistence.Error())
		return
	}

	if already := h.rooms.Join(client, channel); already {
		h.sendAck(client, EventChannelJoined, fmt.Sprintf("Joined channel %s", channel))
		return
	}

	if err := h.store.AddUserToChannel(h.ctx, nickname, channel); err != nil {
		h.rooms.Leave(client, channel)
		h.logger.Error("failed to persist membership",
			slog.String("nickname", nickname),
			slog.String("channel", channel),
			slog.Any("error", err))
		h.sendError(client, ErrPersistence.Error())
		return
	}

	// History is fetched after the durable join; a fetch failure degrades to
	// an empty backlog rather than failing the join.
	history, err := h.store.FindMessagesByChannel(h.ctx, channel, h.cfg.HistoryLimit)
	if err != nil {
		h.logger.Warn("failed to load channel history",
			slog.String("channel", channel),
			slog.Any("error", err))
	}
	h.sendFrame(client, EventExistingMessages, messagePayloads(history))

	h.notifyRoom(channel, KindUserJoined, fmt.Sprintf("%s has joined the channel.", nickname))
	h.sendAck(client, EventChannelJoined, fmt.Sprintf("Joined channel %s", channel))
}

func (h *Hub) handleLeaveChannel(client *Client, data json.RawMessage) {
	var payload LeaveChannelPayload
	if err := decodePayload(data, &payload); err != nil {
		h.sendError(client, ErrChannelInvalid.Error())
		return
	}
	h.leaveChannel(client, payload.Channel)
}

// leaveChannel removes live and durable membership. Leaving a channel the
// client is not in acknowledges without side effects.
func (h *Hub) leaveChannel(client *Client, channel string) {
	nickname := client.Nickname()
	if nickname == "" {
		h.sendError(client, ErrIdentityRequired.Error())
		return
	}

	if wasMember := h.rooms.Leave(client, channel); wasMember {
		if err := h.store.RemoveUserFromChannel(h.ctx, nickname, channel); err != nil {
			h.logger.Warn("failed to remove durable membership",
				slog.String("nickname", nickname),
				slog.String("channel", channel),
				slog.Any("error", err))
		}
		h.notifyRoom(channel, KindUserLeft, fmt.Sprintf("%s has left the channel.", nickname))
	}
	h.sendAck(client, EventChannelLeft, fmt.Sprintf("Left channel %s", channel))
}

func (h *Hub) handleSendMessage(client *Client, data json.RawMessage) {
	var payload SendMessagePayload
	if err := decodePayload(data, &payload); err != nil {
		h.sendError(client, "invalid message payload")
		return
	}

	nickname := client.Nickname()
	if nickname == "" {
		h.sendError(client, ErrIdentityRequired.Error())
		return
	}

	content := strings.TrimSpace(payload.Content)
	if content == "" {
		h.sendError(client, ErrEmptyContent.Error())
		return
	}

	if cmd, isCommand := ParseCommand(content); isCommand {
		h.runCommand(client, cmd, payload.CorrelationID)
		return
	}

	// Only ordinary chat messages need a channel; commands carry their own
	// target.
	if payload.Channel == "" {
		h.sendError(client, ErrChannelInvalid.Error())
		return
	}

	if !h.rooms.IsMember(client, payload.Channel) {
		h.sendError(client, ErrNotMember.Error())
		return
	}

	// Persist first; a store failure means nobody sees the message.
	saved, err := h.store.CreateMessage(h.ctx, &store.Message{
		Sender:        nickname,
		Channel:       &payload.Channel,
		Content:       content,
		CorrelationID: payload.CorrelationID,
	})
	if err != nil {
		h.logger.Error("failed to persist channel message",
			slog.String("channel", payload.Channel),
			slog.Any("error", err))
		h.sendError(client, ErrPersistence.Error())
		return
	}

	// The sender receives its own copy; clients reconcile the optimistic
	// local echo by correlation ID rather than suppressing it.
	h.broadcastRoom(payload.Channel, encodeFrame(EventNewMessage, MessagePayload{
		Sender:        saved.Sender,
		Content:       saved.Content,
		Timestamp:     saved.Timestamp,
		Channel:       payload.Channel,
		CorrelationID: saved.CorrelationID,
	}))
}

func (h *Hub) handleSendPrivateMessage(client *Client, data json.RawMessage) {
	var payload SendPrivateMessagePayload
	if err := decodePayload(data, &payload); err != nil {
		h.sendError(client, ErrRecipientInvalid.Error())
		return
	}

	nickname := client.Nickname()
	if nickname == "" {
		h.sendError(client, ErrIdentityRequired.Error())
		return
	}

	content := strings.TrimSpace(payload.Content)
	if content == "" {
		h.sendError(client, ErrEmptyContent.Error())
		return
	}

	h.sendPrivate(client, payload.Recipient, content, payload.CorrelationID)
}

// sendPrivate persists a direct message and delivers it live when the
// recipient is connected. An offline recipient is not an error: the message
// stays retrievable from history and the sender is told it was saved.
func (h *Hub) sendPrivate(client *Client, recipient, content, correlationID string) {
	sender := client.Nickname()

	saved, err := h.store.CreateMessage(h.ctx, &store.Message{
		Sender:        sender,
		Recipient:     &recipient,
		Content:       content,
		CorrelationID: correlationID,
	})
	if err != nil {
		h.logger.Error("failed to persist private message",
			slog.String("recipient", recipient),
			slog.Any("error", err))
		h.sendError(client, ErrPersistence.Error())
		return
	}

	delivery := PrivateMessagePayload{
		Sender:        saved.Sender,
		Recipient:     recipient,
		Content:       saved.Content,
		Timestamp:     saved.Timestamp,
		CorrelationID: saved.CorrelationID,
	}

	target, online := h.registry.Resolve(recipient)
	if online && target != client {
		h.sendFrame(target, EventNewPrivateMessage, delivery)
	}

	// The sender always gets a copy back for UI reconciliation.
	h.sendFrame(client, EventNewPrivateMessage, delivery)

	if !online {
		h.sendFrame(client, EventNotification, NotificationPayload{
			Kind:      KindPrivateMessageSaved,
			Message:   fmt.Sprintf("%s is offline; message saved.", recipient),
			Timestamp: saved.Timestamp,
		})
	}
}

// runCommand executes a slash command intercepted from message content.
// Unknown commands produce a local-only error, never a broadcast.
func (h *Hub) runCommand(client *Client, cmd Command, correlationID string) {
	switch cmd.Kind {
	case CmdNick:
		if !ValidNickname(cmd.Arg) {
			h.sendError(client, ErrNicknameInvalid.Error())
			return
		}
		if err := h.claimNickname(client, cmd.Arg); err != nil {
			h.sendError(client, err.Error())
			return
		}
		h.sendAck(client, EventNicknameSet, fmt.Sprintf("Nickname set to %s", cmd.Arg))

	case CmdJoin:
		if !ValidChannelName(cmd.Arg) {
			h.sendError(client, ErrChannelInvalid.Error())
			return
		}
		h.joinChannel(client, cmd.Arg)

	case CmdLeave:
		if !ValidChannelName(cmd.Arg) {
			h.sendError(client, "usage: /leave <channel>")
			return
		}
		h.leaveChannel(client, cmd.Arg)

	case CmdChannels:
		channels, err := h.store.ListChannels(h.ctx, "")
		if err != nil {
			h.sendError(client, ErrPersistence.Error())
			return
		}
		names := make([]string, 0, len(channels))
		for _, channel := range channels {
			names = append(names, channel.Name)
		}
		h.sendFrame(client, EventNotification, NotificationPayload{
			Kind:      KindChannelList,
			Message:   "Channels: " + strings.Join(names, ", "),
			Timestamp: nowUTC(),
		})

	case CmdUsers:
		var names []string
		if cmd.Arg != "" {
			names = h.rooms.MemberNames(cmd.Arg)
		} else {
			names = h.registry.Roster()
		}
		h.sendFrame(client, EventNotification, NotificationPayload{
			Kind:      KindUserList,
			Message:   "Users: " + strings.Join(names, ", "),
			Timestamp: nowUTC(),
		})

	case CmdMsg:
		if !ValidNickname(cmd.Arg) {
			h.sendError(client, ErrRecipientInvalid.Error())
			return
		}
		if strings.TrimSpace(cmd.Text) == "" {
			h.sendError(client, ErrEmptyContent.Error())
			return
		}
		h.sendPrivate(client, cmd.Arg, strings.TrimSpace(cmd.Text), correlationID)

	default:
		h.sendError(client, fmt.Sprintf("%s: /%s", ErrUnknownCommand.Error(), cmd.Name))
	}
}

func messagePayloads(messages []store.Message) []MessagePayload {
	payloads := make([]MessagePayload, 0, len(messages))
	for _, message := range messages {
		channel := ""
		if message.Channel != nil {
			channel = *message.Channel
		}
		payloads = append(payloads, MessagePayload{
			Sender:        message.Sender,
			Content:       message.Content,
			Timestamp:     message.Timestamp,
			Channel:       channel,
			CorrelationID: message.CorrelationID,
		})
	}
	return payloads
}
