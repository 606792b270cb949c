// Package api wires the HTTP surface: the WebSocket endpoint plus the
// operational routes (health, metrics, status).
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pairwire/pkg/utils"
	"pairwire/pkg/ws"
)

// Status is implemented by the app and reported on the root route.
type Status interface {
	Version() string
	ConnectionCount() int
}

// Handler returns the server's HTTP handler.
func Handler(hub *ws.Hub, st Status) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/ws", hub.HandleWS)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_ = utils.JSONWrite(w, http.StatusOK, map[string]any{
			"service":     "pairwire",
			"version":     st.Version(),
			"connections": st.ConnectionCount(),
		})
	}).Methods(http.MethodGet)

	return r
}
