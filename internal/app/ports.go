// Package app defines the application layer "ports" (interfaces), the record
// types they exchange, and the core use-cases of Fleeting: credential
// issuance and validation, blob ingestion, expiration-aware retrieval, and
// reaping. It follows a hexagonal (ports & adapters) design: this package
// declares what the core needs, while adapter packages (SQLite metadata,
// filesystem blobs, HTTP layer, janitor) provide concrete implementations.
package app

import (
	"context"
	"io"
	"time"
)

// Clock abstracts time to enable deterministic testing of expiry logic.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
}

// SystemClock implements Clock using time.Now in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Credential is an API credential gating uploads. A zero ExpiresAt means the
// credential never expires; it is left out of YAML so renderers can spell
// the sentinel out.
type Credential struct {
	ID        int64     `yaml:"id"`
	Name      string    `yaml:"name"`
	APIToken  string    `yaml:"token"`
	IssuedAt  time.Time `yaml:"issued_at"`
	ExpiresAt time.Time `yaml:"-"`
}

// NeverExpires reports whether the credential carries the "never" sentinel.
func (c Credential) NeverExpires() bool { return c.ExpiresAt.IsZero() }

// BlobRecord is the metadata row pairing a public token with stored bytes.
type BlobRecord struct {
	ID               int64     `yaml:"id"`
	PublicToken      string    `yaml:"token"`
	StorageName      string    `yaml:"storage_name"`
	OriginalFilename string    `yaml:"filename"`
	ContentType      string    `yaml:"content_type"`
	Size             int64     `yaml:"size"`
	CreatedAt        time.Time `yaml:"created_at"`
	ExpiresAt        time.Time `yaml:"expires_at"`
}

// CredentialStore persists credentials. Insert must report domain.ErrConflict
// when the API token is already taken and must set c.ID on success.
type CredentialStore interface {
	InsertCredential(ctx context.Context, c *Credential) error
	CredentialByToken(ctx context.Context, token string) (Credential, error)
	ListCredentials(ctx context.Context) ([]Credential, error)
	// DeleteCredential is idempotent.
	DeleteCredential(ctx context.Context, id int64) error
	// DeleteExpiredCredentials removes credentials with a non-never expiry <= now.
	DeleteExpiredCredentials(ctx context.Context, now time.Time) (int, error)
	DeleteAllCredentials(ctx context.Context) (int, error)
}

// BlobIndex persists blob records. Insert must report domain.ErrConflict when
// the public token or storage name is already taken and must set r.ID.
// Lookups report domain.ErrNotFound for missing rows.
type BlobIndex interface {
	InsertBlob(ctx context.Context, r *BlobRecord) error
	BlobByToken(ctx context.Context, token string) (BlobRecord, error)
	BlobByStorageName(ctx context.Context, name string) (BlobRecord, error)
	BlobByID(ctx context.Context, id int64) (BlobRecord, error)
	ListBlobs(ctx context.Context) ([]BlobRecord, error)
	DeleteBlob(ctx context.Context, id int64) error
	// DeleteExpiredBlobs removes records with expiresAt <= now.
	DeleteExpiredBlobs(ctx context.Context, now time.Time) (int, error)
	DeleteAllBlobs(ctx context.Context) (int, error)
}

// MetadataStore is the relational store holding both record kinds.
type MetadataStore interface {
	CredentialStore
	BlobIndex
}

// BlobWriter is an exclusive, write-once handle. Commit or Abort must be
// called; Commit returns only once the bytes are durable, and the name
// refers to nothing until then. Abort after a failed Commit is safe.
type BlobWriter interface {
	io.Writer
	Commit() error
	Abort() error
}

// BlobInfo describes one object present in blob storage.
type BlobInfo struct {
	Name    string
	ModTime time.Time
	// Partial marks an upload still being written. Name is then the
	// store's staging name, usable only with Delete.
	Partial bool
}

// BlobStore is durable byte storage keyed by storage name.
type BlobStore interface {
	// Create opens name for exclusive write. It fails with an error matching
	// fs.ErrExist if the name is already taken.
	Create(name string) (BlobWriter, error)
	// Open returns the bytes stored under name, or an error matching
	// fs.ErrNotExist.
	Open(name string) (io.ReadCloser, error)
	// Delete removes name, which may be a partial name returned by List.
	// Deleting an absent name is not an error.
	Delete(name string) error
	List() ([]BlobInfo, error)
}

// Recorder receives counters and summary observations. metrics.Manager
// satisfies it; nopRecorder is used when none is configured.
type Recorder interface {
	Inc(name string, delta int64)
	Observe(name string, value int64)
}

type nopRecorder struct{}

func (nopRecorder) Inc(string, int64)     {}
func (nopRecorder) Observe(string, int64) {}

// Metric names emitted by the core.
const (
	CounterBlobsIngested       = "blobs_ingested_total"
	CounterBlobsServed         = "blobs_served_total"
	CounterCredentialsIssued   = "credentials_issued_total"
	CounterReapFilesDeleted    = "reap_files_deleted_total"
	CounterReapRowsDeleted     = "reap_rows_deleted_total"
	CounterReapFailures        = "reap_failures_total"
	SummaryReapDeletedPerCycle = "reap_deleted_per_cycle"
)
