package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	fallbackHandler "github.com/sanyaden/smartyme-voice-input-sub000/internal/handler/fallback"
	relayHandler "github.com/sanyaden/smartyme-voice-input-sub000/internal/handler/relay"
	middlewarePkg "github.com/sanyaden/smartyme-voice-input-sub000/internal/middleware"
	"github.com/sanyaden/smartyme-voice-input-sub000/pkg/utils"
)

// NewRouter wires the WebSocket relay and the HTTP fallback endpoints.
// Either handler may be nil when its backing service is not configured; the
// corresponding routes then answer 503.
func NewRouter(relayH *relayHandler.Handler, fallbackH *fallbackHandler.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		if relayH != nil {
			relayH.RegisterRoutes(api)
		} else {
			api.Get("/ws", func(w http.ResponseWriter, _ *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "realtime relay unavailable")
			})
		}

		if fallbackH != nil {
			fallbackH.RegisterRoutes(api)
		} else {
			api.Handle("/create-session", unavailable())
			api.Handle("/connect/{sessionID}", unavailable())
			api.Handle("/audio/{sessionID}", unavailable())
			api.Handle("/text/{sessionID}", unavailable())
			api.Handle("/disconnect/{sessionID}", unavailable())
			api.Handle("/session/{sessionID}", unavailable())
			api.Handle("/stats", unavailable())
		}
	})

	return r
}

func unavailable() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondError(w, http.StatusServiceUnavailable, "fallback pipeline unavailable")
	}
}
