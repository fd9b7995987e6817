package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS allows the configured UI origins. Preflight requests get 200.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Chat-Client", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
