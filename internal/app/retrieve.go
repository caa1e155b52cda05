package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/haukened/fleeting/internal/domain"
)

// Mode selects how retrieved content is framed for presentation.
type Mode int

const (
	// ModeInline returns content for embedding (image viewer).
	ModeInline Mode = iota
	// ModeDownload returns content as an attachment.
	ModeDownload
)

func (m Mode) String() string {
	if m == ModeInline {
		return "inline"
	}
	return "attachment"
}

// Content is an opened blob ready to stream. Body must be closed by the caller.
type Content struct {
	Record      BlobRecord
	Body        io.ReadCloser
	Disposition string
}

// Retriever resolves public tokens and streams their bytes.
type Retriever struct {
	Index   BlobIndex
	Blobs   BlobStore
	Clock   Clock
	Metrics Recorder
}

// Resolve looks up the record for token, enforcing expiry at now. Unknown
// tokens yield domain.ErrNotFound; known but expired ones domain.ErrExpired.
func (s *Retriever) Resolve(ctx context.Context, token string, now time.Time) (BlobRecord, error) {
	if _, err := domain.ParseToken(token); err != nil {
		return BlobRecord{}, domain.ErrNotFound
	}
	rec, err := s.Index.BlobByToken(ctx, token)
	if err != nil {
		return BlobRecord{}, storeErr("resolve blob", err)
	}
	if !domain.Live(rec.ExpiresAt, now) {
		return BlobRecord{}, domain.ErrExpired
	}
	return rec, nil
}

// Fetch opens the bytes behind rec. A record whose bytes are gone (reap in
// progress) yields domain.ErrNotFound, never an empty stream.
func (s *Retriever) Fetch(_ context.Context, rec BlobRecord) (io.ReadCloser, error) {
	rc, err := s.Blobs.Open(rec.StorageName)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: blob bytes missing", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open blob: %v", domain.ErrStorageUnavailable, err)
	}
	return rc, nil
}

// Open resolves token at the current time and opens its bytes for the
// requested presentation mode. Inline mode is limited to image types.
func (s *Retriever) Open(ctx context.Context, token string, mode Mode) (c Content, err error) {
	ctx, span := tracer.Start(ctx, "retrieve")
	span.SetAttributes(attribute.String("fleeting.mode", mode.String()))
	defer func() { finish(span, err) }()

	rec, err := s.Resolve(ctx, token, s.Clock.Now())
	if err != nil {
		return Content{}, err
	}
	if mode == ModeInline && !domain.InlineViewable(rec.ContentType) {
		return Content{}, fmt.Errorf("%w: content type %s cannot be viewed inline", domain.ErrInvalidArgument, rec.ContentType)
	}
	body, err := s.Fetch(ctx, rec)
	if err != nil {
		return Content{}, err
	}
	disp := mime.FormatMediaType(mode.String(), map[string]string{"filename": rec.OriginalFilename})
	if disp == "" {
		disp = mode.String()
	}
	recorder(s.Metrics).Inc(CounterBlobsServed, 1)
	return Content{Record: rec, Body: body, Disposition: disp}, nil
}
