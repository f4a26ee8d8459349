package probe

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"hls-player/internal/platform/logger"
	"hls-player/internal/player"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the probe API using go-chi.
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler returns a Handler over svc.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: logger.OrDiscard(log)}
}

// Routes mounts the probe endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Create)
	r.Route("/{probe_id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Delete)
		r.Post("/quality", h.SetQuality)
		r.Post("/play", h.TogglePlay)
		r.Post("/seek", h.Seek)
		r.Post("/volume", h.SetVolume)
		r.Post("/retry", h.Retry)
		r.Post("/keys", h.Key)
		r.Get("/watermark.svg", h.Watermark)
	})
}

// Create handles POST /probes.
// Body: { "src": "https://cdn/a/master.m3u8", "viewer_id": "...", "auto_play": true }.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid probe body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	p, err := h.svc.Create(req)
	if err != nil {
		if errors.Is(err, player.ErrMissingSource) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		h.log.Error("create probe failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]ID{"id": p.ID})
}

// Get handles GET /probes/{probe_id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(probeID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.View())
}

// Delete handles DELETE /probes/{probe_id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(probeID(r)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetQuality handles POST /probes/{probe_id}/quality. Body: { "index": 1 };
// -1 restores automatic selection.
func (h *Handler) SetQuality(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Index *int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Index == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.respond(w, r, h.svc.SetQuality(probeID(r), *body.Index))
}

// TogglePlay handles POST /probes/{probe_id}/play.
func (h *Handler) TogglePlay(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.svc.TogglePlay(probeID(r)))
}

// Seek handles POST /probes/{probe_id}/seek. Body: { "fraction": 0.5 }.
func (h *Handler) Seek(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Fraction *float64 `json:"fraction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Fraction == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.respond(w, r, h.svc.Seek(probeID(r), *body.Fraction))
}

// SetVolume handles POST /probes/{probe_id}/volume. Body: { "volume": 0.4 }.
func (h *Handler) SetVolume(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Volume *float64 `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Volume == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.respond(w, r, h.svc.SetVolume(probeID(r), *body.Volume))
}

// Retry handles POST /probes/{probe_id}/retry.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.svc.Retry(probeID(r)))
}

// Key handles POST /probes/{probe_id}/keys. Body: { "key": "PrintScreen" }.
func (h *Handler) Key(w http.ResponseWriter, r *http.Request) {
	var req KeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	prevented, err := h.svc.Key(probeID(r), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"default_prevented": prevented})
}

// Watermark handles GET /probes/{probe_id}/watermark.svg.
func (h *Handler) Watermark(w http.ResponseWriter, r *http.Request) {
	wm, err := h.svc.Watermark(probeID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(wm.SVG()))
}

// respond writes the probe's view after a successful command.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	p, err := h.svc.Get(probeID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.View())
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoWatermark):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, player.ErrNotMounted):
		w.WriteHeader(http.StatusConflict)
	default:
		h.log.Error("probe request failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func probeID(r *http.Request) ID {
	return ID(chi.URLParam(r, "probe_id"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
