package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/oversightlabs/parlscan/internal/scan"
)

const (
	// progressInterval paces snapshot events to active clients.
	progressInterval = time.Second
	// keepaliveInterval bounds the silence between frames so proxies do
	// not drop idle streams.
	keepaliveInterval = 15 * time.Second
)

// streamProgress handles GET /api/scans/{run_id}/progress as a server-sent
// event stream. Active runs stream live tracker snapshots until the run
// completes or the client disconnects; finished runs get their stored final
// snapshot as a single event.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	snap, live := s.runner.Progress(runID)
	if !live {
		stored, err := s.store.GetSnapshot(r.Context(), runID)
		if err != nil {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		sseHeaders(w)
		writeProgressEvent(w, stored)
		flusher.Flush()
		return
	}

	sseHeaders(w)
	writeProgressEvent(w, snap)
	flusher.Flush()
	if snap.Completed {
		return
	}

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-ticker.C:
			snap, live = s.runner.Progress(runID)
			if !live {
				// The run just finished; emit the persisted final
				// snapshot and end the stream.
				if stored, err := s.store.GetSnapshot(r.Context(), runID); err == nil {
					writeProgressEvent(w, stored)
					flusher.Flush()
				}
				return
			}
			writeProgressEvent(w, snap)
			flusher.Flush()
			if snap.Completed {
				return
			}
		}
	}
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

func writeProgressEvent(w http.ResponseWriter, snap scan.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
}
