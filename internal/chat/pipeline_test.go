package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mahmoud-Mh/IRC/internal/config"
	"github.com/Mahmoud-Mh/IRC/internal/store"
)

// fakeStore is an in-memory Store used to drive the pipeline without a
// database. Individual operations can be forced to fail.
type fakeStore struct {
	mu          sync.Mutex
	users       map[string]*store.User
	channels    map[string]*store.Channel
	memberships map[string]map[string]bool
	messages    []store.Message

	failCreateUser    bool
	failEnsureChannel bool
	failCreateMessage bool
	failHistory       bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[string]*store.User),
		channels:    make(map[string]*store.Channel),
		memberships: make(map[string]map[string]bool),
	}
}

var errFakeStore = errors.New("fake store failure")

func (f *fakeStore) CreateUser(_ context.Context, nickname string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateUser {
		return nil, errFakeStore
	}
	if _, ok := f.users[nickname]; ok {
		return nil, store.ErrDuplicate
	}
	user := &store.User{ID: nickname, Nickname: nickname}
	f.users[nickname] = user
	return user, nil
}

func (f *fakeStore) FindUserByNickname(_ context.Context, nickname string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[nickname]
	if !ok {
		return nil, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeStore) UpdateUserNickname(_ context.Context, oldNickname, newNickname string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[oldNickname]
	if !ok {
		return nil, store.ErrNotFound
	}
	if _, taken := f.users[newNickname]; taken {
		return nil, store.ErrDuplicate
	}
	delete(f.users, oldNickname)
	user.Nickname = newNickname
	f.users[newNickname] = user
	return user, nil
}

func (f *fakeStore) EnsureChannel(_ context.Context, name string) (*store.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEnsureChannel {
		return nil, errFakeStore
	}
	channel, ok := f.channels[name]
	if !ok {
		channel = &store.Channel{ID: name, Name: name}
		f.channels[name] = channel
	}
	return channel, nil
}

func (f *fakeStore) ListChannels(_ context.Context, _ string) ([]store.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	channels := make([]store.Channel, 0, len(f.channels))
	for _, channel := range f.channels {
		channels = append(channels, *channel)
	}
	return channels, nil
}

func (f *fakeStore) AddUserToChannel(_ context.Context, nickname, channelName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	members, ok := f.memberships[channelName]
	if !ok {
		members = make(map[string]bool)
		f.memberships[channelName] = members
	}
	members[nickname] = true
	return nil
}

func (f *fakeStore) RemoveUserFromChannel(_ context.Context, nickname, channelName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.memberships[channelName], nickname)
	return nil
}

func (f *fakeStore) CreateMessage(_ context.Context, message *store.Message) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateMessage {
		return nil, errFakeStore
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	f.messages = append(f.messages, *message)
	return message, nil
}

func (f *fakeStore) FindMessagesByChannel(_ context.Context, channelName string, limit int) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failHistory {
		return nil, errFakeStore
	}
	var messages []store.Message
	for _, message := range f.messages {
		if message.Channel != nil && *message.Channel == channelName {
			messages = append(messages, message)
		}
	}
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

func (f *fakeStore) FindPrivateMessages(_ context.Context, userA, userB string) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var messages []store.Message
	for _, message := range f.messages {
		if message.Recipient == nil {
			continue
		}
		if (message.Sender == userA && *message.Recipient == userB) ||
			(message.Sender == userB && *message.Recipient == userA) {
			messages = append(messages, message)
		}
	}
	return messages, nil
}

func (f *fakeStore) messageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

var _ Store = (*fakeStore)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestHub builds a hub around the fake store without running its event
// loop; clients are attached directly so tests stay single-goroutine.
func newTestHub(t *testing.T) (*Hub, *fakeStore) {
	t.Helper()
	st := newFakeStore()
	return NewHub(st, config.Default(), testLogger()), st
}

func attachClient(h *Hub) *Client {
	client := NewClient(nil, h, "test")
	h.mutex.Lock()
	h.clients[client] = true
	h.mutex.Unlock()
	return client
}

// recvFrame pops the next queued frame for the client, failing the test when
// none arrives.
func recvFrame(t *testing.T, client *Client) Frame {
	t.Helper()
	select {
	case raw := <-client.send:
		var frame Frame
		require.NoError(t, json.Unmarshal(raw, &frame))
		return frame
	case <-time.After(time.Second):
		t.Fatal("no frame queued for client")
		return Frame{}
	}
}

// recvEvent reads frames until one with the given event arrives, skipping
// broadcasts the test does not care about.
func recvEvent(t *testing.T, client *Client, event string) Frame {
	t.Helper()
	for i := 0; i < 20; i++ {
		frame := recvFrame(t, client)
		if frame.Event == event {
			return frame
		}
	}
	t.Fatalf("event %q never arrived", event)
	return Frame{}
}

func drain(client *Client) {
	for {
		select {
		case <-client.send:
		default:
			return
		}
	}
}

func sendFrameJSON(h *Hub, client *Client, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	raw, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		panic(err)
	}
	h.dispatch(client, raw)
}

func setNickname(t *testing.T, h *Hub, client *Client, nickname string) {
	t.Helper()
	sendFrameJSON(h, client, EventSetNickname, SetNicknamePayload{Nickname: nickname})
	frame := recvEvent(t, client, EventNicknameSet)
	var ack AckPayload
	require.NoError(t, json.Unmarshal(frame.Data, &ack))
	require.True(t, ack.Success)
	drain(client)
}

func joinChannel(t *testing.T, h *Hub, client *Client, channel string) {
	t.Helper()
	sendFrameJSON(h, client, EventJoinChannel, JoinChannelPayload{Channel: channel})
	recvEvent(t, client, EventChannelJoined)
	drain(client)
}

func errorMessage(t *testing.T, frame Frame) string {
	t.Helper()
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	return payload.Message
}

func TestSetNicknamePersistsAndAnnounces(t *testing.T) {
	h, st := newTestHub(t)
	client := attachClient(h)

	sendFrameJSON(h, client, EventSetNickname, SetNicknamePayload{Nickname: "alice"})

	roster := recvEvent(t, client, EventUsersUpdated)
	var users UsersUpdatedPayload
	require.NoError(t, json.Unmarshal(roster.Data, &users))
	assert.Equal(t, []string{"alice"}, users.Nicknames)

	recvEvent(t, client, EventNicknameSet)
	assert.Equal(t, "alice", client.Nickname())

	_, err := st.FindUserByNickname(context.Background(), "alice")
	assert.NoError(t, err)
}

func TestSetNicknameRejectsInvalidFormat(t *testing.T) {
	h, _ := newTestHub(t)
	client := attachClient(h)

	sendFrameJSON(h, client, EventSetNickname, SetNicknamePayload{Nickname: "no spaces allowed"})

	frame := recvEvent(t, client, EventError)
	assert.Equal(t, ErrNicknameInvalid.Error(), errorMessage(t, frame))
	assert.Empty(t, client.Nickname())
}

func TestSetNicknameConflict(t *testing.T) {
	h, _ := newTestHub(t)
	alice := attachClient(h)
	intruder := attachClient(h)

	setNickname(t, h, alice, "alice")

	sendFrameJSON(h, intruder, EventSetNickname, SetNicknamePayload{Nickname: "alice"})
	frame := recvEvent(t, intruder, EventError)
	assert.Equal(t, ErrNicknameInUse.Error(), errorMessage(t, frame))
	assert.Empty(t, intruder.Nickname())
}

func TestSetNicknameIdempotentReclaim(t *testing.T) {
	h, _ := newTestHub(t)
	client := attachClient(h)

	setNickname(t, h, client, "alice")
	sendFrameJSON(h, client, EventSetNickname, SetNicknamePayload{Nickname: "alice"})

	frame := recvEvent(t, client, EventNicknameSet)
	var ack AckPayload
	require.NoError(t, json.Unmarshal(frame.Data, &ack))
	assert.True(t, ack.Success)
}

func TestSetNicknameRollsBackWhenPersistFails(t *testing.T) {
	h, st := newTestHub(t)
	client := attachClient(h)
	st.failCreateUser = true

	sendFrameJSON(h, client, EventSetNickname, SetNicknamePayload{Nickname: "alice"})

	frame := recvEvent(t, client, EventError)
	assert.Equal(t, ErrPersistence.Error(), errorMessage(t, frame))
	assert.Empty(t, client.Nickname())

	_, online := h.registry.Resolve("alice")
	assert.False(t, online, "failed claim must not leave the nickname bound")

	// The nickname is claimable once the store recovers.
	st.failCreateUser = false
	setNickname(t, h, client, "alice")
}

func TestChangeNicknameRenamesDurableRecord(t *testing.T) {
	h, st := newTestHub(t)
	client := attachClient(h)
	setNickname(t, h, client, "alice")

	sendFrameJSON(h, client, EventChangeNickname, ChangeNicknamePayload{
		OldNickname: "alice",
		NewNickname: "alicia",
	})

	notification := recvEvent(t, client, EventNotification)
	var payload NotificationPayload
	require.NoError(t, json.Unmarshal(notification.Data, &payload))
	assert.Equal(t, KindNicknameChanged, payload.Kind)

	recvEvent(t, client, EventNicknameSet)
	assert.Equal(t, "alicia", client.Nickname())

	_, err := st.FindUserByNickname(context.Background(), "alicia")
	assert.NoError(t, err)
	_, err = st.FindUserByNickname(context.Background(), "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestChangeNicknameOntoExistingRecordMovesMemberships(t *testing.T) {
	h, st := newTestHub(t)
	// "bob" already has a durable record but no live connection, so the
	// rename reclaims it instead of renaming the "alice" record.
	_, err := st.CreateUser(context.Background(), "bob")
	require.NoError(t, err)

	client := attachClient(h)
	setNickname(t, h, client, "alice")
	joinChannel(t, h, client, "general")

	sendFrameJSON(h, client, EventChangeNickname, ChangeNicknamePayload{
		OldNickname: "alice",
		NewNickname: "bob",
	})
	recvEvent(t, client, EventNicknameSet)
	drain(client)

	assert.False(t, st.memberships["general"]["alice"], "membership left under the old nickname")
	assert.True(t, st.memberships["general"]["bob"], "membership follows the rename")

	// Leaving now removes the durable membership completely.
	sendFrameJSON(h, client, EventLeaveChannel, LeaveChannelPayload{Channel: "general"})
	recvEvent(t, client, EventChannelLeft)
	assert.Empty(t, st.memberships["general"])
}

func TestChangeNicknameRejectsMismatchedOld(t *testing.T) {
	h, _ := newTestHub(t)
	client := attachClient(h)
	setNickname(t, h, client, "alice")

	sendFrameJSON(h, client, EventChangeNickname, ChangeNicknamePayload{
		OldNickname: "somebody-else",
		NewNickname: "alicia",
	})

	recvEvent(t, client, EventError)
	assert.Equal(t, "alice", client.Nickname())
}

func TestJoinChannelRequiresNickname(t *testing.T) {
	h, _ := newTestHub(t)
	client := attachClient(h)

	sendFrameJSON(h, client, EventJoinChannel, JoinChannelPayload{Channel: "general"})

	frame := recvEvent(t, client, EventError)
	assert.Equal(t, ErrIdentityRequired.Error(), errorMessage(t, frame))
}

func TestJoinChannelCreatesRecordAndDeliversHistory(t *testing.T) {
	h, st := newTestHub(t)
	channel := "general"
	st.messages = append(st.messages, store.Message{
		Sender:  "old-timer",
		Channel: &channel,
		Content: "welcome",
	})

	client := attachClient(h)
	setNickname(t, h, client, "alice")

	sendFrameJSON(h, client, EventJoinChannel, JoinChannelPayload{Channel: "general"})

	history := recvEvent(t, client, EventExistingMessages)
	var backlog []MessagePayload
	require.NoError(t, json.Unmarshal(history.Data, &backlog))
	require.Len(t, backlog, 1)
	assert.Equal(t, "welcome", backlog[0].Content)

	notification := recvEvent(t, client, EventNotification)
	var payload NotificationPayload
	require.NoError(t, json.Unmarshal(notification.Data, &payload))
	assert.Equal(t, KindUserJoined, payload.Kind)

	recvEvent(t, client, EventChannelJoined)

	_, err := st.FindUserByNickname(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, st.memberships["general"]["alice"], "durable membership recorded")
	assert.True(t, h.rooms.IsMember(client, "general"))
}

func TestJoinChannelIdempotent(t *testing.T) {
	h, _ := newTestHub(t)
	client := attachClient(h)
	setNickname(t, h, client, "alice")
	joinChannel(t, h, client, "general")

	sendFrameJSON(h, client, EventJoinChannel, JoinChannelPayload{Channel: "general"})

	// Rejoin acknowledges without a second join notification or backlog.
	frame := recvFrame(t, client)
	assert.Equal(t, EventChannelJoined, frame.Event)
	select {
	case raw := <-client.send:
		t.Fatalf("unexpected extra frame after rejoin: %s", raw)
	default:
	}
}

func TestJoinChannelHistoryFailureDegradesToEmpty(t *testing.T) {
	h, st := newTestHub(t)
	st.failHistory = true
	client := attachClient(h)
	setNickname(t, h, client, "alice")

	sendFrameJSON(h, client, EventJoinChannel, JoinChannelPayload{Channel: "general"})

	history := recvEvent(t, client, EventExistingMessages)
	var backlog []MessagePayload
	require.NoError(t, json.Unmarshal(history.Data, &backlog))
	assert.Empty(t, backlog)
	recvEvent(t, client, EventChannelJoined)
}

func TestLeaveChannelRemovesMembership(t *testing.T) {
	h, st := newTestHub(t)
	client := attachClient(h)
	setNickname(t, h, client, "alice")
	joinChannel(t, h, client, "general")

	sendFrameJSON(h, client, EventLeaveChannel, LeaveChannelPayload{Channel: "general"})

	recvEvent(t, client, EventChannelLeft)
	assert.False(t, h.rooms.IsMember(client, "general"))
	assert.False(t, st.memberships["general"]["alice"])
}

func TestLeaveChannelNotJoinedIsNoOp(t *testing.T) {
	h, _ := newTestHub(t)
	client := attachClient(h)
	setNickname(t, h, client, "alice")

	sendFrameJSON(h, client, EventLeaveChannel, LeaveChannelPayload{Channel: "general"})

	frame := recvFrame(t, client)
	assert.Equal(t, EventChannelLeft, frame.Event)
}

func TestSendMessageRequiresMembership(t *testing.T) {
	h, st := newTestHub(t)
	client := attachClient(h)
	setNickname(t, h, client, "alice")

	sendFrameJSON(h, client, EventSendMessage, SendMessagePayload{
		Channel: "general",
		Content: "hello",
	})

	frame := recvEvent(t, client, EventError)
	assert.Equal(t, ErrNotMember.Error(), errorMessage(t, frame))
	assert.Zero(t, st.messageCount())
}

func TestSendMessageBroadcastsWithCorrelationID(t *testing.T) {
	h, st := newTestHub(t)
	alice := attachClient(h)
	bob := attachClient(h)
	setNickname(t, h, alice, "alice")
	setNickname(t, h, bob, "bob")
	joinChannel(t, h, alice, "general")
	joinChannel(t, h, bob, "general")
	drain(alice)
	drain(bob)

	sendFrameJSON(h, alice, EventSendMessage, SendMessagePayload{
		Channel:       "general",
		Content:       "hello",
		CorrelationID: "tmp-42",
	})

	for _, client := range []*Client{alice, bob} {
		frame := recvEvent(t, client, EventNewMessage)
		var payload MessagePayload
		require.NoError(t, json.Unmarshal(frame.Data, &payload))
		assert.Equal(t, "alice", payload.Sender)
		assert.Equal(t, "hello", payload.Content)
		assert.Equal(t, "general", payload.Channel)
		assert.Equal(t, "tmp-42", payload.CorrelationID)
		assert.False(t, payload.Timestamp.IsZero())
	}
	assert.Equal(t, 1, st.messageCount())
}

func TestSendMessagePersistFailureStopsFanOut(t *testing.T) {
	h, st := newTestHub(t)
	alice := attachClient(h)
	bob := attachClient(h)
	setNickname(t, h, alice, "alice")
	setNickname(t, h, bob, "bob")
	joinChannel(t, h, alice, "general")
	joinChannel(t, h, bob, "general")
	drain(alice)
	drain(bob)

	st.failCreateMessage = true
	sendFrameJSON(h, alice, EventSendMessage, SendMessagePayload{
		Channel: "general",
		Content: "hello",
	})

	frame := recvEvent(t, alice, EventError)
	assert.Equal(t, ErrPersistence.Error(), errorMessage(t, frame))
	assert.Zero(t, st.messageCount())
	select {
	case raw := <-bob.send:
		t.Fatalf("bob must not receive anything, got %s", raw)
	default:
	}
}

func TestSendMessageRejectsEmptyContent(t *testing.T) {
	h, _ := newTestHub(t)
	client := attachClient(h)
	setNickname(t, h, client, "alice")
	joinChannel(t, h, client, "general")

	sendFrameJSON(h, client, EventSendMessage, SendMessagePayload{
		Channel: "general",
		Content: "   ",
	})

	frame := recvEvent(t, client, EventError)
	assert.Equal(t, ErrEmptyContent.Error(), errorMessage(t, frame))
}

func TestPrivateMessageDeliveredToBothEnds(t *testing.T) {
	h, st := newTestHub(t)
	alice := attachClient(h)
	bob := attachClient(h)
	setNickname(t, h, alice, "alice")
	setNickname(t, h, bob, "bob")
	drain(alice)
	drain(bob)

	sendFrameJSON(h, alice, EventSendPrivateMessage, SendPrivateMessagePayload{
		Recipient:     "bob",
		Content:       "psst",
		CorrelationID: "tmp-7",
	})

	for _, client := range []*Client{bob, alice} {
		frame := recvEvent(t, client, EventNewPrivateMessage)
		var payload PrivateMessagePayload
		require.NoError(t, json.Unmarshal(frame.Data, &payload))
		assert.Equal(t, "alice", payload.Sender)
		assert.Equal(t, "bob", payload.Recipient)
		assert.Equal(t, "psst", payload.Content)
		assert.Equal(t, "tmp-7", payload.CorrelationID)
	}
	assert.Equal(t, 1, st.messageCount())
}

func TestPrivateMessageOfflineRecipientIsSaved(t *testing.T) {
	h, st := newTestHub(t)
	alice := attachClient(h)
	setNickname(t, h, alice, "alice")
	drain(alice)

	sendFrameJSON(h, alice, EventSendPrivateMessage, SendPrivateMessagePayload{
		Recipient: "bob",
		Content:   "are you there",
	})

	recvEvent(t, alice, EventNewPrivateMessage)
	notification := recvEvent(t, alice, EventNotification)
	var payload NotificationPayload
	require.NoError(t, json.Unmarshal(notification.Data, &payload))
	assert.Equal(t, KindPrivateMessageSaved, payload.Kind)

	messages, err := st.FindPrivateMessages(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestSlashJoinInterceptedFromMessageContent(t *testing.T) {
	h, st := newTestHub(t)
	client := attachClient(h)
	setNickname(t, h, client, "alice")

	sendFrameJSON(h, client, EventSendMessage, SendMessagePayload{
		Channel: "lobby",
		Content: "/join general",
	})

	recvEvent(t, client, EventChannelJoined)
	assert.True(t, h.rooms.IsMember(client, "general"))
	assert.Zero(t, st.messageCount(), "commands are never persisted as messages")
}

func TestSlashCommandNeedsNoChannelContext(t *testing.T) {
	h, st := newTestHub(t)
	_, err := st.EnsureChannel(context.Background(), "general")
	require.NoError(t, err)

	client := attachClient(h)
	setNickname(t, h, client, "alice")

	// A pure command works with the channel field left empty.
	sendFrameJSON(h, client, EventSendMessage, SendMessagePayload{
		Content: "/channels",
	})
	frame := recvEvent(t, client, EventNotification)
	var payload NotificationPayload
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	assert.Equal(t, KindChannelList, payload.Kind)

	// An ordinary message without a channel is still rejected.
	sendFrameJSON(h, client, EventSendMessage, SendMessagePayload{
		Content: "hello",
	})
	frame = recvEvent(t, client, EventError)
	assert.Equal(t, ErrChannelInvalid.Error(), errorMessage(t, frame))
	assert.Zero(t, st.messageCount())
}

func TestSlashUnknownCommandErrorsLocally(t *testing.T) {
	h, st := newTestHub(t)
	alice := attachClient(h)
	bob := attachClient(h)
	setNickname(t, h, alice, "alice")
	setNickname(t, h, bob, "bob")
	joinChannel(t, h, alice, "general")
	joinChannel(t, h, bob, "general")
	drain(alice)
	drain(bob)

	sendFrameJSON(h, alice, EventSendMessage, SendMessagePayload{
		Channel: "general",
		Content: "/frobnicate now",
	})

	recvEvent(t, alice, EventError)
	assert.Zero(t, st.messageCount())
	select {
	case raw := <-bob.send:
		t.Fatalf("unknown command must not broadcast, got %s", raw)
	default:
	}
}

func TestSlashMsgSendsPrivateMessage(t *testing.T) {
	h, _ := newTestHub(t)
	alice := attachClient(h)
	bob := attachClient(h)
	setNickname(t, h, alice, "alice")
	setNickname(t, h, bob, "bob")
	drain(alice)
	drain(bob)

	sendFrameJSON(h, alice, EventSendMessage, SendMessagePayload{
		Channel: "general",
		Content: "/msg bob hello there",
	})

	frame := recvEvent(t, bob, EventNewPrivateMessage)
	var payload PrivateMessagePayload
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	assert.Equal(t, "hello there", payload.Content)
}

func TestMalformedFrameReportsError(t *testing.T) {
	h, _ := newTestHub(t)
	client := attachClient(h)

	h.dispatch(client, []byte("not json"))

	frame := recvEvent(t, client, EventError)
	assert.Equal(t, "malformed frame", errorMessage(t, frame))
}

func TestUnknownEventReportsError(t *testing.T) {
	h, _ := newTestHub(t)
	client := attachClient(h)

	h.dispatch(client, []byte(`{"event":"teleport","data":{}}`))

	recvEvent(t, client, EventError)
}

func TestDisconnectCleanupReleasesEverything(t *testing.T) {
	h, st := newTestHub(t)
	alice := attachClient(h)
	bob := attachClient(h)
	setNickname(t, h, alice, "alice")
	setNickname(t, h, bob, "bob")
	joinChannel(t, h, alice, "general")
	joinChannel(t, h, bob, "general")
	drain(alice)
	drain(bob)

	// Mirror the hub's unregister path for bob.
	h.mutex.Lock()
	delete(h.clients, bob)
	bob.closed = true
	h.mutex.Unlock()
	close(bob.send)
	h.cleanupClient(bob)

	notification := recvEvent(t, alice, EventNotification)
	var payload NotificationPayload
	require.NoError(t, json.Unmarshal(notification.Data, &payload))
	assert.Equal(t, KindUserLeft, payload.Kind)

	roster := recvEvent(t, alice, EventUsersUpdated)
	var users UsersUpdatedPayload
	require.NoError(t, json.Unmarshal(roster.Data, &users))
	assert.Equal(t, []string{"alice"}, users.Nicknames)

	_, online := h.registry.Resolve("bob")
	assert.False(t, online)
	assert.False(t, st.memberships["general"]["bob"], "durable membership removed on disconnect")

	// The released nickname is reclaimable by a new connection.
	carol := attachClient(h)
	setNickname(t, h, carol, "bob")
}

func TestFullQueueDropsOnlySlowClient(t *testing.T) {
	h, _ := newTestHub(t)
	alice := attachClient(h)
	setNickname(t, h, alice, "alice")
	joinChannel(t, h, alice, "general")
	drain(alice)

	// slow joins with a single-slot queue that is already full, so the next
	// broadcast cannot be enqueued.
	h.cfg.SendQueueSize = 1
	slow := attachClient(h)
	_, _, err := h.registry.Claim(slow, "slowpoke")
	require.NoError(t, err)
	h.rooms.Join(slow, "general")
	slow.send <- []byte("backlog")

	sendFrameJSON(h, alice, EventSendMessage, SendMessagePayload{
		Channel: "general",
		Content: "hello",
	})

	recvEvent(t, alice, EventNewMessage)

	h.mutex.RLock()
	_, aliceAlive := h.clients[alice]
	_, slowAlive := h.clients[slow]
	h.mutex.RUnlock()
	assert.True(t, aliceAlive)
	assert.False(t, slowAlive, "client with a full queue is dropped")
}
