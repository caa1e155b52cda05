package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/haukened/fleeting/internal/domain"
)

// Authorizer gates uploads on an API token. *CredentialService satisfies it.
type Authorizer interface {
	Authorize(ctx context.Context, apitoken string) error
}

// IngestRequest carries one upload. ContentType only selects the storage
// extension; Filename is display-only and falls back to the storage name.
// LifetimeHours <= 0 selects the configured default.
type IngestRequest struct {
	APIToken      string
	Body          io.Reader
	ContentType   string
	Filename      string
	LifetimeHours int
}

// Ingestor streams uploads into a BlobStore and commits a BlobRecord only
// after the bytes are durable.
type Ingestor struct {
	Blobs   BlobStore
	Index   BlobIndex
	Auth    Authorizer // nil disables the credential check
	Clock   Clock
	Tokens  TokenSource
	Metrics Recorder
	Logger  *slog.Logger

	MaxBytes             int64 // 0 means unlimited
	DefaultLifetimeHours int
	MaxLifetimeHours     int
}

// Ingest stores req.Body and returns the committed record. The public token
// in the record is the capability handed back to the client.
func (s *Ingestor) Ingest(ctx context.Context, req IngestRequest) (rec BlobRecord, err error) {
	ctx, span := tracer.Start(ctx, "ingest")
	defer func() { finish(span, err) }()

	if req.Body == nil {
		return BlobRecord{}, fmt.Errorf("%w: missing body", domain.ErrInvalidArgument)
	}
	if s.Auth != nil {
		if err := s.Auth.Authorize(ctx, req.APIToken); err != nil {
			return BlobRecord{}, err
		}
	}
	log := s.logger()
	ct := domain.NormalizeContentType(req.ContentType)
	ext := domain.ExtensionFor(ct)

	var (
		name string
		w    BlobWriter
	)
	err = withFreshToken(s.Tokens, func(tok domain.Token) error {
		name = domain.StorageName(tok, ext)
		bw, cErr := s.Blobs.Create(name)
		if errors.Is(cErr, fs.ErrExist) {
			return domain.ErrConflict
		}
		if cErr != nil {
			return fmt.Errorf("%w: create blob: %v", domain.ErrStorageUnavailable, cErr)
		}
		w = bw
		return nil
	})
	if err != nil {
		return BlobRecord{}, err
	}
	span.SetAttributes(attribute.String("fleeting.storage_name", name))

	size, err := s.copy(ctx, w, req.Body)
	if err != nil {
		if aErr := w.Abort(); aErr != nil {
			log.Error("abort partial blob", "storage_name", name, "error", aErr)
		}
		return BlobRecord{}, err
	}
	if err = w.Commit(); err != nil {
		_ = w.Abort()
		return BlobRecord{}, fmt.Errorf("%w: flush blob: %v", domain.ErrStorageUnavailable, err)
	}

	now := s.Clock.Now().UTC()
	filename := domain.CleanFilename(req.Filename)
	if filename == "" {
		filename = name
	}
	err = withFreshToken(s.Tokens, func(tok domain.Token) error {
		rec = BlobRecord{
			PublicToken:      tok.String(),
			StorageName:      name,
			OriginalFilename: filename,
			ContentType:      ct,
			Size:             size,
			CreatedAt:        now,
			ExpiresAt:        now.Add(domain.BlobLifetime(req.LifetimeHours, s.DefaultLifetimeHours, s.MaxLifetimeHours)),
		}
		return s.Index.InsertBlob(ctx, &rec)
	})
	if err != nil {
		// The bytes are durable but unowned; the next reap pass removes them.
		log.Warn("blob record insert failed; bytes left for reaper", "storage_name", name, "error", err)
		return BlobRecord{}, storeErr("insert blob record", err)
	}
	recorder(s.Metrics).Inc(CounterBlobsIngested, 1)
	log.Info("blob ingested", "storage_name", name, "size", size, "expires_at", rec.ExpiresAt)
	return rec, nil
}

// copy streams body into w, enforcing MaxBytes and cancellation. Read-side
// failures map to ErrIngestionFailed, write-side failures to
// ErrStorageUnavailable.
func (s *Ingestor) copy(ctx context.Context, w io.Writer, body io.Reader) (int64, error) {
	src := &ctxReader{ctx: ctx, r: body}
	var r io.Reader = src
	if s.MaxBytes > 0 {
		r = io.LimitReader(src, s.MaxBytes+1)
	}
	n, err := io.Copy(w, r)
	switch {
	case src.err != nil:
		return n, fmt.Errorf("%w: read upload: %w", domain.ErrIngestionFailed, src.err)
	case err != nil:
		return n, fmt.Errorf("%w: write blob: %v", domain.ErrStorageUnavailable, err)
	case s.MaxBytes > 0 && n > s.MaxBytes:
		return n, fmt.Errorf("%w: limit is %d bytes", domain.ErrTooLarge, s.MaxBytes)
	}
	return n, nil
}

func (s *Ingestor) logger() *slog.Logger {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("domain", "ingest")
}

// ctxReader fails reads once ctx is done and remembers the first read error
// so callers can tell source failures from sink failures.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
	err error
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		c.err = err
		return 0, err
	}
	n, err := c.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		c.err = err
	}
	return n, err
}
