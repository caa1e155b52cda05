package httpx

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/haukened/fleeting/internal/app"
)

// handleDisplay implements GET /display/{token}: a JSON document carrying the
// image as a data URI for an inline viewer. The base64 payload is encoded
// while streaming rather than buffered.
func (h *Handler) handleDisplay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.Blobs.Open(ctx, chi.URLParam(r, "token"), app.ModeInline)
	if err != nil {
		h.mapServiceError(ctx, w, err)
		return
	}
	defer c.Body.Close()

	name, _ := json.Marshal(c.Record.OriginalFilename)
	ct, _ := json.Marshal(c.Record.ContentType)
	src, _ := json.Marshal("data:" + c.Record.ContentType + ";base64,")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	// src is left open so the payload can be appended before the closing quote
	_, _ = io.WriteString(w, `{"filename":`+string(name)+`,"content_type":`+string(ct)+`,"src":`+string(src[:len(src)-1]))
	enc := base64.NewEncoder(base64.StdEncoding, w)
	if _, err := io.Copy(enc, c.Body); err != nil {
		// headers are gone; the truncated document is the only signal
		h.logger().Error("display stream", "error", err)
		return
	}
	_ = enc.Close()
	_, _ = io.WriteString(w, "\"}\n")
}

// handleDownload implements GET /download/{token}: the raw bytes with an
// attachment disposition. Range headers are ignored; the whole body is sent.
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.Blobs.Open(ctx, chi.URLParam(r, "token"), app.ModeDownload)
	if err != nil {
		h.mapServiceError(ctx, w, err)
		return
	}
	defer c.Body.Close()

	w.Header().Set("Content-Type", c.Record.ContentType)
	w.Header().Set("Content-Disposition", c.Disposition)
	w.Header().Set("Content-Length", strconv.FormatInt(c.Record.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, c.Body); err != nil {
		h.logger().Warn("download stream", "error", err)
	}
}
