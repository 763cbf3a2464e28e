package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Mahmoud-Mh/IRC/internal/chat"
	"github.com/Mahmoud-Mh/IRC/internal/config"
	"github.com/Mahmoud-Mh/IRC/internal/store"
)

// Handler bundles the hub, the store, and the WebSocket upgrader behind the
// HTTP surface.
type Handler struct {
	hub      *chat.Hub
	store    *store.Store
	cfg      *config.Config
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates the HTTP handler set for the service.
func NewHandler(hub *chat.Hub, st *store.Store, cfg *config.Config, logger *slog.Logger) *Handler {
	httpLogger := logger.With(slog.String("component", "http"))
	origins := newOriginChecker(cfg.AllowedOrigins, httpLogger)
	return &Handler{
		hub:   hub,
		store: st,
		cfg:   cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		logger: httpLogger,
	}
}

// Health responds with a plain text message indicating the server is
// running.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "IRC server is running!")
}

// WebSocket upgrades the HTTP connection and registers the client with the
// hub, which launches its read/write pumps.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	client := chat.NewClient(conn, h.hub, r.RemoteAddr)
	h.hub.Register(client)
}

// --- Users ---

type createUserRequest struct {
	Nickname string `json:"nickname"`
}

type renameUserRequest struct {
	NewNickname string `json:"newNickname"`
}

// ListUsers returns all persisted users, optionally filtered by ?search=.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		h.internalError(w, "failed to list users", err)
		return
	}
	h.respondJSON(w, http.StatusOK, users)
}

// GetUser returns one user by nickname.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	nickname := chi.URLParam(r, "nickname")
	user, err := h.store.FindUserByNickname(r.Context(), nickname)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, fmt.Sprintf("user %q not found", nickname))
			return
		}
		h.internalError(w, "failed to find user", err)
		return
	}
	h.respondJSON(w, http.StatusOK, user)
}

// CreateUser persists a user record without a live connection, mirroring the
// event protocol's side effect.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !chat.ValidNickname(req.Nickname) {
		h.respondError(w, http.StatusBadRequest, "nickname must be 1-32 characters: letters, digits, '-' or '_'")
		return
	}
	user, err := h.store.CreateUser(r.Context(), req.Nickname)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			h.respondError(w, http.StatusConflict, fmt.Sprintf("user %q already exists", req.Nickname))
			return
		}
		h.internalError(w, "failed to create user", err)
		return
	}
	h.respondJSON(w, http.StatusCreated, user)
}

// RenameUser updates a persisted nickname. Live connections keep their
// claimed nickname; renames of connected users go through the event
// protocol.
func (h *Handler) RenameUser(w http.ResponseWriter, r *http.Request) {
	oldNickname := chi.URLParam(r, "nickname")
	var req renameUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !chat.ValidNickname(req.NewNickname) {
		h.respondError(w, http.StatusBadRequest, "newNickname must be 1-32 characters: letters, digits, '-' or '_'")
		return
	}
	user, err := h.store.UpdateUserNickname(r.Context(), oldNickname, req.NewNickname)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			h.respondError(w, http.StatusNotFound, fmt.Sprintf("user %q not found", oldNickname))
		case errors.Is(err, store.ErrDuplicate):
			h.respondError(w, http.StatusConflict, fmt.Sprintf("user %q already exists", req.NewNickname))
		default:
			h.internalError(w, "failed to rename user", err)
		}
		return
	}
	h.respondJSON(w, http.StatusOK, user)
}

// --- Channels ---

type createChannelRequest struct {
	Name string `json:"name"`
}

type renameChannelRequest struct {
	NewName string `json:"newName"`
}

// ListChannels returns all channels, optionally filtered by ?search=.
func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.store.ListChannels(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		h.internalError(w, "failed to list channels", err)
		return
	}
	h.respondJSON(w, http.StatusOK, channels)
}

// GetChannel returns one channel. The path segment is treated as a channel
// id first and falls back to a name lookup, so both forms work.
func (h *Handler) GetChannel(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "name")
	channel, err := h.store.FindChannelByID(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		channel, err = h.store.FindChannelByName(r.Context(), key)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, fmt.Sprintf("channel %q not found", key))
			return
		}
		h.internalError(w, "failed to find channel", err)
		return
	}
	h.respondJSON(w, http.StatusOK, channel)
}

// CreateChannel persists a channel and announces it to every connected
// client.
func (h *Handler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	var req createChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !chat.ValidChannelName(req.Name) {
		h.respondError(w, http.StatusBadRequest, "name must be 1-64 characters: letters, digits, '-' or '_'")
		return
	}
	channel, err := h.store.CreateChannel(r.Context(), req.Name)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			h.respondError(w, http.StatusConflict, fmt.Sprintf("channel %q already exists", req.Name))
			return
		}
		h.internalError(w, "failed to create channel", err)
		return
	}
	h.hub.Notify(chat.KindChannelCreated, fmt.Sprintf("Channel %s has been created.", channel.Name))
	h.respondJSON(w, http.StatusCreated, channel)
}

// RenameChannel changes a channel's canonical name.
func (h *Handler) RenameChannel(w http.ResponseWriter, r *http.Request) {
	oldName := chi.URLParam(r, "name")
	var req renameChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !chat.ValidChannelName(req.NewName) {
		h.respondError(w, http.StatusBadRequest, "newName must be 1-64 characters: letters, digits, '-' or '_'")
		return
	}
	channel, err := h.store.RenameChannel(r.Context(), oldName, req.NewName)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			h.respondError(w, http.StatusNotFound, fmt.Sprintf("channel %q not found", oldName))
		case errors.Is(err, store.ErrDuplicate):
			h.respondError(w, http.StatusConflict, fmt.Sprintf("channel %q already exists", req.NewName))
		default:
			h.internalError(w, "failed to rename channel", err)
		}
		return
	}
	h.respondJSON(w, http.StatusOK, channel)
}

// DeleteChannel removes a channel and announces the deletion to every
// connected client.
func (h *Handler) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.store.DeleteChannel(r.Context(), name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, fmt.Sprintf("channel %q not found", name))
			return
		}
		h.internalError(w, "failed to delete channel", err)
		return
	}
	h.hub.Notify(chat.KindChannelDeleted, fmt.Sprintf("Channel %s has been deleted.", name))
	w.WriteHeader(http.StatusNoContent)
}

// ChannelUsers returns the durable membership of a channel, plus the subset
// currently connected to a live room.
func (h *Handler) ChannelUsers(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	members, err := h.store.ChannelMembers(r.Context(), name)
	if err != nil {
		h.internalError(w, "failed to list channel members", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string][]string{
		"members": members,
		"online":  h.hub.MembersOf(name),
	})
}

// --- Messages ---

// ChannelMessages returns the persisted history of a channel, oldest first.
func (h *Handler) ChannelMessages(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	messages, err := h.store.FindMessagesByChannel(r.Context(), name, h.cfg.HistoryLimit)
	if err != nil {
		h.internalError(w, "failed to load channel messages", err)
		return
	}
	h.respondJSON(w, http.StatusOK, messages)
}

// PrivateMessages returns the conversation between ?userA= and ?userB=,
// oldest first.
func (h *Handler) PrivateMessages(w http.ResponseWriter, r *http.Request) {
	userA := r.URL.Query().Get("userA")
	userB := r.URL.Query().Get("userB")
	if userA == "" || userB == "" {
		h.respondError(w, http.StatusBadRequest, "userA and userB query parameters are required")
		return
	}
	messages, err := h.store.FindPrivateMessages(r.Context(), userA, userB)
	if err != nil {
		h.internalError(w, "failed to load private messages", err)
		return
	}
	h.respondJSON(w, http.StatusOK, messages)
}

// --- Helpers ---

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", slog.Any("error", err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) internalError(w http.ResponseWriter, message string, err error) {
	h.logger.Error(message, slog.Any("error", err))
	h.respondError(w, http.StatusInternalServerError, message)
}
