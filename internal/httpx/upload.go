package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/haukened/fleeting/internal/app"
)

// Upload request headers.
const (
	HeaderLifetimeHours = "X-Lifetime-Hours"
	HeaderFilename      = "X-Filename"
)

type uploadResponse struct {
	Token       string    `json:"token"`
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	ExpiresAt   time.Time `json:"expires_at"`
	ViewURL     string    `json:"view_url"`
	DownloadURL string    `json:"download_url"`
}

// handleUpload implements POST /upload and POST /upload/{filename}. The body
// is streamed straight into the blob store.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	apitoken, ok := bearerToken(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="fleeting"`)
		h.writeError(ctx, w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	if h.MaxBody > 0 && r.ContentLength > h.MaxBody {
		h.writeError(ctx, w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	hours, err := parseLifetimeHours(r.Header.Get(HeaderLifetimeHours))
	if err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, "invalid lifetime")
		return
	}
	filename := chi.URLParam(r, "filename")
	if filename == "" {
		filename = r.Header.Get(HeaderFilename)
	}

	rec, err := h.Ingest.Ingest(ctx, app.IngestRequest{
		APIToken:      apitoken,
		Body:          r.Body,
		ContentType:   r.Header.Get("Content-Type"),
		Filename:      filename,
		LifetimeHours: hours,
	})
	if err != nil {
		h.mapServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", "/download/"+rec.PublicToken)
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(uploadResponse{
		Token:       rec.PublicToken,
		Filename:    rec.OriginalFilename,
		Size:        rec.Size,
		ExpiresAt:   rec.ExpiresAt,
		ViewURL:     "/display/" + rec.PublicToken,
		DownloadURL: "/download/" + rec.PublicToken,
	})
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) (string, bool) {
	const prefix = "bearer "
	hdr := r.Header.Get("Authorization")
	if len(hdr) <= len(prefix) || !strings.EqualFold(hdr[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(hdr[len(prefix):])
	return tok, tok != ""
}

// parseLifetimeHours parses the optional lifetime header. Absent means 0,
// which the ingestor resolves to its default.
func parseLifetimeHours(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
