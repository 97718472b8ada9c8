package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"parkd/internal/service"
)

const keepAliveInterval = 25 * time.Second

// StreamHandler pushes a site's availability updates to the client as server
// sent events. Nothing is replayed: clients fetch the site first, then follow
// the stream.
type StreamHandler struct {
	Broadcaster *service.Broadcaster
	Sites       *service.SiteService
	Logger      *zap.Logger
}

func NewStreamHandler(b *service.Broadcaster, sites *service.SiteService, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{Broadcaster: b, Sites: sites, Logger: logger}
}

func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	siteID := mux.Vars(r)["id"]
	if _, err := h.Sites.GetSite(r.Context(), siteID); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}

	rc := http.NewResponseController(w)
	updates, cancel := h.Broadcaster.Subscribe(siteID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": subscribed\n\n")
	if err := rc.Flush(); err != nil {
		h.Logger.Warn("streaming not supported by response writer", zap.Error(err))
		return
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
		case u, ok := <-updates:
			if !ok {
				return
			}
			b, err := json.Marshal(u)
			if err != nil {
				h.Logger.Error("encoding availability update", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: availability\ndata: %s\n\n", b)
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
