package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/getditto/DittoChat-sub001/internal/handlers"
	"github.com/getditto/DittoChat-sub001/internal/metrics"
)

func SetupRoutes(r chi.Router, m *metrics.Metrics) {
	// Health check and metrics
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	// Current user and roster
	r.Get("/api/me", handlers.GetMe)
	r.Patch("/api/me", handlers.UpdateMe)
	r.Get("/api/users", handlers.GetUsers)

	// Rooms
	r.Get("/api/rooms", handlers.GetRooms)
	r.Post("/api/rooms", handlers.CreateRoom)
	r.Post("/api/rooms/dm", handlers.CreateDMRoom)
	r.Post("/api/rooms/{roomID}/subscribe", handlers.SubscribeRoom)
	r.Delete("/api/rooms/{roomID}/subscribe", handlers.UnsubscribeRoom)
	r.Post("/api/rooms/{roomID}/read", handlers.MarkRoomRead)

	// Messages
	r.Get("/api/rooms/{roomID}/messages", handlers.GetMessages)
	r.Post("/api/rooms/{roomID}/messages", handlers.CreateMessage)
	r.Put("/api/rooms/{roomID}/messages/{messageID}", handlers.EditMessage)
	r.Delete("/api/rooms/{roomID}/messages/{messageID}", handlers.DeleteMessage)
	r.Post("/api/rooms/{roomID}/messages/{messageID}/reactions", handlers.AddReaction)
	r.Delete("/api/rooms/{roomID}/messages/{messageID}/reactions", handlers.RemoveReaction)

	// Attachments
	r.Post("/api/rooms/{roomID}/images", handlers.UploadImage)
	r.Post("/api/rooms/{roomID}/files", handlers.UploadFile)
	r.Post("/api/attachments/fetch", handlers.FetchAttachment)

	// Permissions and session
	r.Get("/api/permissions", handlers.GetPermissions)
	r.Patch("/api/permissions", handlers.UpdatePermissions)
	r.Post("/api/logout", handlers.Logout)

	// WebSocket change stream
	r.Get("/ws", handlers.ChatWebSocket)
}
