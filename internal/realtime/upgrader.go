package realtime

import (
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/websocket"
)

// NewUpgrader builds the websocket upgrader shared by all connections.
// Additional origins come from the ALLOWED_ORIGINS environment variable.
func NewUpgrader(allowedOrigins []string) websocket.Upgrader {
	origins := append([]string{}, allowedOrigins...)
	if custom := os.Getenv("ALLOWED_ORIGINS"); custom != "" {
		for _, origin := range strings.Split(custom, ",") {
			origins = append(origins, strings.TrimSpace(origin))
		}
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			for _, allowed := range origins {
				if origin == allowed {
					return true
				}
			}
			// local development clients
			return origin != "" && (strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1"))
		},
	}
}
