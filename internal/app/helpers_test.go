package app_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haukened/fleeting/internal/app"
	"github.com/haukened/fleeting/internal/domain"
	"github.com/haukened/fleeting/internal/store/filesystem"
	"github.com/haukened/fleeting/internal/store/sqlite"
)

// fakeClock implements app.Clock with a settable time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// env wires every core service against a real SQLite index and a temp blob dir.
type env struct {
	clock   *fakeClock
	index   *sqlite.Index
	blobs   *filesystem.BlobStore
	blobDir string
	creds   *app.CredentialService
	ingest  *app.Ingestor
	fetch   *app.Retriever
	reaper  *app.Reaper
	admin   *app.Admin
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	db, err := sqlite.Open(ctx, "file:"+filepath.Join(dir, "meta.db")+"?_journal_mode=WAL&_busy_timeout=5000")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ix, err := sqlite.New(ctx, db)
	require.NoError(t, err)
	blobDir := filepath.Join(dir, "blobs")
	require.NoError(t, os.Mkdir(blobDir, 0o700))
	bs, err := filesystem.New(blobDir)
	require.NoError(t, err)

	clk := &fakeClock{now: t0}
	e := &env{clock: clk, index: ix, blobs: bs, blobDir: blobDir}
	e.creds = &app.CredentialService{Store: ix, Clock: clk}
	e.ingest = &app.Ingestor{Blobs: bs, Index: ix, Auth: e.creds, Clock: clk, DefaultLifetimeHours: 24, MaxLifetimeHours: 168}
	e.fetch = &app.Retriever{Index: ix, Blobs: bs, Clock: clk}
	e.reaper = &app.Reaper{Store: ix, Blobs: bs}
	e.admin = &app.Admin{Store: ix, Blobs: bs}
	return e
}

// credential issues a never-expiring credential and returns its token.
func (e *env) credential(t *testing.T) string {
	t.Helper()
	c, err := e.creds.Issue(context.Background(), "test", domain.Never)
	require.NoError(t, err)
	return c.APIToken
}

// files returns the names present in the blob dir.
func (e *env) files(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(e.blobDir)
	require.NoError(t, err)
	var names []string
	for _, en := range entries {
		names = append(names, en.Name())
	}
	return names
}

// tok builds a valid token from a single repeated character.
func tok(c byte) string { return strings.Repeat(string(c), domain.TokenLen) }

// seqTokens yields the given tokens in order, then random ones.
func seqTokens(toks ...string) app.TokenSource {
	var (
		mu sync.Mutex
		i  int
	)
	return func() (domain.Token, error) {
		mu.Lock()
		defer mu.Unlock()
		if i < len(toks) {
			i++
			return domain.Token(toks[i-1]), nil
		}
		return domain.NewToken()
	}
}
