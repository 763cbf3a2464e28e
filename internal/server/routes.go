package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes wires the handler set into a chi router: health check, WebSocket
// endpoint, and the CRUD API.
func (h *Handler) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", h.Health)
	r.Get("/ws", h.WebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)
			r.Get("/{nickname}", h.GetUser)
			r.Patch("/{nickname}", h.RenameUser)
		})
		r.Route("/channels", func(r chi.Router) {
			r.Get("/", h.ListChannels)
			r.Post("/", h.CreateChannel)
			r.Get("/{name}", h.GetChannel)
			r.Patch("/{name}/rename", h.RenameChannel)
			r.Delete("/{name}", h.DeleteChannel)
			r.Get("/{name}/users", h.ChannelUsers)
			r.Get("/{name}/messages", h.ChannelMessages)
		})
		r.Get("/messages/private", h.PrivateMessages)
	})

	return r
}
