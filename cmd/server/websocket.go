// Package main is the entry point of the application
package main

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/tecu23/duel-server/pkg/server"
	"github.com/tecu23/duel-server/pkg/session"
)

// checkOrigin only admits the configured frontend. With no frontend
// configured every origin is accepted.
func (app *application) checkOrigin(r *http.Request) bool {
	if app.Config.FrontendOrigin == "" {
		return true
	}

	return app.Config.FrontendOrigin == r.Header.Get("Origin")
}

// handleWebSocket handles WebSocket connections. The player identity is
// taken from the player, name and avatar query parameters; reconnecting
// with the same player id rejoins the player's sessions.
func (app *application) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	player := session.PlayerRef{
		ID:          q.Get("player"),
		DisplayName: q.Get("name"),
		AvatarRef:   q.Get("avatar"),
	}

	// Upgrade HTTP connection to WebSocket
	ws, err := app.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		app.Logger.Error("Failed to upgrade to WebSocket", zap.Error(err))
		return
	}

	// Create and register connection
	conn := server.NewConnection(ws, app.Hub, player, app.Publisher, app.Logger)
	app.Hub.Register(conn)

	app.Logger.Info("WebSocket connection established",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("player_id", conn.Player.ID),
	)

	// Start connection read/write goroutines
	go conn.WritePump()
	go conn.ReadPump()
}
