// Package sqlite provides a SQLite-backed implementation of the
// app.MetadataStore port for persisting credentials and blob records.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/haukened/fleeting/internal/app"
	"github.com/haukened/fleeting/internal/domain"
)

var _ app.MetadataStore = (*Index)(nil)

// Open opens the database at dsn through the instrumented driver and checks
// connectivity. The schema is not touched; call Migrate or New.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := otelsql.Open("sqlite3", dsn, otelsql.WithAttributes(
		attribute.String("db.system", "sqlite"),
	))
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Index implements app.MetadataStore using SQLite (via database/sql). It is
// safe for concurrent use; database/sql manages connection pooling and
// SQLite serializes writers. Timestamps are stored as Unix nanoseconds.
type Index struct{ db *sql.DB }

// New constructs an Index, applying schema migrations first.
func New(ctx context.Context, db *sql.DB) (*Index, error) {
	if err := Migrate(ctx, db); err != nil {
		return nil, err
	}
	return &Index{db: db}, nil
}

type scanner interface{ Scan(dest ...any) error }

// --- credentials ---

// InsertCredential stores c and sets its ID.
func (i *Index) InsertCredential(ctx context.Context, c *app.Credential) error {
	const q = `INSERT INTO credentials (name, api_token, issued_at, expires_at) VALUES (?,?,?,?)`
	var exp sql.NullInt64
	if !c.NeverExpires() {
		exp = sql.NullInt64{Int64: c.ExpiresAt.UnixNano(), Valid: true}
	}
	res, err := i.db.ExecContext(ctx, q, c.Name, c.APIToken, c.IssuedAt.UnixNano(), exp)
	if err != nil {
		return classify(err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

const credentialCols = `id, name, api_token, issued_at, expires_at`

func scanCredential(s scanner) (app.Credential, error) {
	var (
		c      app.Credential
		issued int64
		exp    sql.NullInt64
	)
	if err := s.Scan(&c.ID, &c.Name, &c.APIToken, &issued, &exp); err != nil {
		return app.Credential{}, err
	}
	c.IssuedAt = fromNanos(issued)
	if exp.Valid {
		c.ExpiresAt = fromNanos(exp.Int64)
	}
	return c, nil
}

// CredentialByToken returns the credential holding token.
func (i *Index) CredentialByToken(ctx context.Context, token string) (app.Credential, error) {
	row := i.db.QueryRowContext(ctx, `SELECT `+credentialCols+` FROM credentials WHERE api_token=?`, token)
	c, err := scanCredential(row)
	if err != nil {
		return app.Credential{}, classify(err)
	}
	return c, nil
}

// ListCredentials returns all credentials ordered by id.
func (i *Index) ListCredentials(ctx context.Context) ([]app.Credential, error) {
	rows, err := i.db.QueryContext(ctx, `SELECT `+credentialCols+` FROM credentials ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []app.Credential{}
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCredential removes credential id if present.
func (i *Index) DeleteCredential(ctx context.Context, id int64) error {
	_, err := i.db.ExecContext(ctx, `DELETE FROM credentials WHERE id=?`, id)
	return err
}

// DeleteExpiredCredentials removes credentials with a finite expiry <= now.
func (i *Index) DeleteExpiredCredentials(ctx context.Context, now time.Time) (int, error) {
	return i.exec(ctx, `DELETE FROM credentials WHERE expires_at IS NOT NULL AND expires_at <= ?`, now.UnixNano())
}

// DeleteAllCredentials removes every credential.
func (i *Index) DeleteAllCredentials(ctx context.Context) (int, error) {
	return i.exec(ctx, `DELETE FROM credentials`)
}

// --- blobs ---

// InsertBlob stores r and sets its ID.
func (i *Index) InsertBlob(ctx context.Context, r *app.BlobRecord) error {
	const q = `INSERT INTO blobs (public_token, storage_name, original_filename, content_type, size, created_at, expires_at) VALUES (?,?,?,?,?,?,?)`
	res, err := i.db.ExecContext(ctx, q, r.PublicToken, r.StorageName, r.OriginalFilename, r.ContentType, r.Size, r.CreatedAt.UnixNano(), r.ExpiresAt.UnixNano())
	if err != nil {
		return classify(err)
	}
	r.ID, err = res.LastInsertId()
	return err
}

const blobCols = `id, public_token, storage_name, original_filename, content_type, size, created_at, expires_at`

func scanBlob(s scanner) (app.BlobRecord, error) {
	var (
		r            app.BlobRecord
		created, exp int64
	)
	if err := s.Scan(&r.ID, &r.PublicToken, &r.StorageName, &r.OriginalFilename, &r.ContentType, &r.Size, &created, &exp); err != nil {
		return app.BlobRecord{}, err
	}
	r.CreatedAt = fromNanos(created)
	r.ExpiresAt = fromNanos(exp)
	return r, nil
}

func (i *Index) blobWhere(ctx context.Context, where string, arg any) (app.BlobRecord, error) {
	row := i.db.QueryRowContext(ctx, `SELECT `+blobCols+` FROM blobs WHERE `+where, arg)
	r, err := scanBlob(row)
	if err != nil {
		return app.BlobRecord{}, classify(err)
	}
	return r, nil
}

// BlobByToken returns the record addressed by a public token.
func (i *Index) BlobByToken(ctx context.Context, token string) (app.BlobRecord, error) {
	return i.blobWhere(ctx, `public_token=?`, token)
}

// BlobByStorageName returns the record owning a storage name.
func (i *Index) BlobByStorageName(ctx context.Context, name string) (app.BlobRecord, error) {
	return i.blobWhere(ctx, `storage_name=?`, name)
}

// BlobByID returns record id.
func (i *Index) BlobByID(ctx context.Context, id int64) (app.BlobRecord, error) {
	return i.blobWhere(ctx, `id=?`, id)
}

// ListBlobs returns all blob records ordered by id.
func (i *Index) ListBlobs(ctx context.Context) ([]app.BlobRecord, error) {
	rows, err := i.db.QueryContext(ctx, `SELECT `+blobCols+` FROM blobs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []app.BlobRecord{}
	for rows.Next() {
		r, err := scanBlob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteBlob removes record id if present.
func (i *Index) DeleteBlob(ctx context.Context, id int64) error {
	_, err := i.db.ExecContext(ctx, `DELETE FROM blobs WHERE id=?`, id)
	return err
}

// DeleteExpiredBlobs removes records with expires_at <= now.
func (i *Index) DeleteExpiredBlobs(ctx context.Context, now time.Time) (int, error) {
	return i.exec(ctx, `DELETE FROM blobs WHERE expires_at <= ?`, now.UnixNano())
}

// DeleteAllBlobs removes every blob record.
func (i *Index) DeleteAllBlobs(ctx context.Context) (int, error) {
	return i.exec(ctx, `DELETE FROM blobs`)
}

func (i *Index) exec(ctx context.Context, q string, args ...any) (int, error) {
	res, err := i.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// classify maps driver errors onto domain sentinels.
func classify(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	}
	return err
}
