package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/haukened/fleeting/internal/domain"
)

// ReapReport summarizes one reap pass.
type ReapReport struct {
	FilesDeleted       int // bytes of expired records
	OrphansDeleted     int // bytes with no owning record
	PartialsDeleted    int // abandoned uploads
	BlobRowsDeleted    int
	CredentialsDeleted int
	Failures           int
}

// Deleted returns the total number of objects removed on either side.
func (r ReapReport) Deleted() int {
	return r.FilesDeleted + r.OrphansDeleted + r.PartialsDeleted + r.BlobRowsDeleted + r.CredentialsDeleted
}

// DefaultStaleUpload is used when Reaper.StaleUpload is zero.
const DefaultStaleUpload = time.Hour

// Reaper performs a single reconciliation pass over both stores. It does not
// schedule itself; see package janitor.
type Reaper struct {
	Store   MetadataStore
	Blobs   BlobStore
	Metrics Recorder
	Logger  *slog.Logger
	// OrphanGrace protects freshly written bytes whose record is not yet
	// committed: an unowned file younger than this is left alone. Zero
	// disables the grace window.
	OrphanGrace time.Duration
	// StaleUpload is how long a partial upload may go unwritten before it is
	// treated as abandoned. It should be at least the server's upload timeout.
	StaleUpload time.Duration
}

// Reap deletes bytes of expired or unowned blobs, then expired blob rows,
// then expired credentials. Per-item failures do not stop the pass; they are
// counted and returned joined.
func (s *Reaper) Reap(ctx context.Context, now time.Time) (rep ReapReport, err error) {
	ctx, span := tracer.Start(ctx, "reap")
	defer func() {
		span.SetAttributes(
			attribute.Int("fleeting.reap.deleted", rep.Deleted()),
			attribute.Int("fleeting.reap.failures", rep.Failures),
		)
		finish(span, err)
	}()
	log := s.logger()
	var errs []error
	fail := func(e error) {
		rep.Failures++
		errs = append(errs, e)
	}

	infos, lErr := s.Blobs.List()
	if lErr != nil {
		fail(fmt.Errorf("list blobs: %w", lErr))
	}
	for _, info := range infos {
		if ctx.Err() != nil {
			fail(ctx.Err())
			break
		}
		if info.Partial {
			if now.Sub(info.ModTime) < s.staleUpload() {
				continue
			}
			if dErr := s.Blobs.Delete(info.Name); dErr != nil {
				log.Error("delete partial upload", "name", info.Name, "error", dErr)
				fail(fmt.Errorf("delete %s: %w", info.Name, dErr))
				continue
			}
			rep.PartialsDeleted++
			continue
		}
		rec, gErr := s.Store.BlobByStorageName(ctx, info.Name)
		orphan := errors.Is(gErr, domain.ErrNotFound)
		switch {
		case orphan && s.OrphanGrace > 0 && now.Sub(info.ModTime) < s.OrphanGrace:
			continue
		case gErr != nil && !orphan:
			fail(fmt.Errorf("lookup %s: %w", info.Name, gErr))
			continue
		case !orphan && domain.Live(rec.ExpiresAt, now):
			continue
		}
		if dErr := s.Blobs.Delete(info.Name); dErr != nil {
			log.Error("delete blob", "storage_name", info.Name, "error", dErr)
			fail(fmt.Errorf("delete %s: %w", info.Name, dErr))
			continue
		}
		if orphan {
			rep.OrphansDeleted++
		} else {
			rep.FilesDeleted++
		}
	}

	if n, dErr := s.Store.DeleteExpiredBlobs(ctx, now); dErr != nil {
		fail(fmt.Errorf("delete expired blob rows: %w", dErr))
	} else {
		rep.BlobRowsDeleted = n
	}
	if n, dErr := s.Store.DeleteExpiredCredentials(ctx, now); dErr != nil {
		fail(fmt.Errorf("delete expired credentials: %w", dErr))
	} else {
		rep.CredentialsDeleted = n
	}

	m := recorder(s.Metrics)
	m.Inc(CounterReapFilesDeleted, int64(rep.FilesDeleted+rep.OrphansDeleted+rep.PartialsDeleted))
	m.Inc(CounterReapRowsDeleted, int64(rep.BlobRowsDeleted+rep.CredentialsDeleted))
	m.Inc(CounterReapFailures, int64(rep.Failures))
	m.Observe(SummaryReapDeletedPerCycle, int64(rep.Deleted()))

	if len(errs) > 0 {
		return rep, fmt.Errorf("reap: %d failures: %w", rep.Failures, errors.Join(errs...))
	}
	return rep, nil
}

func (s *Reaper) staleUpload() time.Duration {
	if s.StaleUpload > 0 {
		return s.StaleUpload
	}
	return DefaultStaleUpload
}

func (s *Reaper) logger() *slog.Logger {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("domain", "reaper")
}
