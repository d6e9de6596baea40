package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"censord/internal/assets"
	"censord/internal/notify"
	"censord/internal/queue"
)

// App bundles the dependencies the synchronous surface needs. It shares the
// queue, validator and worker pool with the realtime channel but none of the
// session machinery.
type App struct {
	Queue  *queue.Queue
	Router *notify.Router
	Assets assets.Store
	Logger zerolog.Logger
}

func NewApp(q *queue.Queue, router *notify.Router, store assets.Store, logger zerolog.Logger) *App {
	return &App{Queue: q, Router: router, Assets: store, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
