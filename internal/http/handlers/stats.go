package handlers

import "net/http"

// QueueStats exposes the queue depth for instrumentation and dashboards.
func (a *App) QueueStats(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]int{"pending": a.Queue.Size()})
}
