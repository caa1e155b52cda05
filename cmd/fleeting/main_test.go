package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haukened/fleeting/internal/app"
	"github.com/haukened/fleeting/internal/config"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// harness runs commands against one data directory with a settable clock.
type harness struct {
	dataDir string
	clock   *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		dataDir: filepath.Join(t.TempDir(), "data"),
		clock:   &testClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
}

func (h *harness) run(args ...string) (string, error) {
	var out, errb bytes.Buffer
	root := (&cli{clock: h.clock}).rootCmd()
	root.SetOut(&out)
	root.SetErr(&errb)
	root.SetArgs(append([]string{"--data-dir", h.dataDir, "--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := h.run(args...)
	if err != nil {
		t.Fatalf("%v: %v (out=%s)", args, err, out)
	}
	return out
}

// runtime opens the same data directory directly, for seeding uploads.
func (h *harness) runtime(t *testing.T) *runtime {
	t.Helper()
	cfg, err := config.Load(config.Override("data_dir", h.dataDir))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	rt, err := openRuntime(context.Background(), cfg, h.clock, newLogger(io.Discard, cfg))
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { rt.close(context.Background()) })
	return rt
}

func (h *harness) upload(t *testing.T, apitoken, filename string, hours int) app.BlobRecord {
	t.Helper()
	rec, err := h.runtime(t).ingest.Ingest(context.Background(), app.IngestRequest{
		APIToken:      apitoken,
		Body:          strings.NewReader("hello"),
		ContentType:   "text/plain",
		Filename:      filename,
		LifetimeHours: hours,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return rec
}

func TestEnsureDataDir(t *testing.T) {
	data := filepath.Join(t.TempDir(), "data-root")
	cfg := &config.Config{DataDir: data}
	if err := ensureDataDir(cfg); err != nil {
		t.Fatalf("ensureDataDir: %v", err)
	}
	for _, dir := range []string{data, cfg.BlobDir()} {
		st, err := os.Stat(dir)
		if err != nil || !st.IsDir() {
			t.Fatalf("stat %s: %v", dir, err)
		}
		if st.Mode().Perm() != 0o700 {
			t.Fatalf("%s perm=%v", dir, st.Mode().Perm())
		}
	}
	// idempotent
	if err := ensureDataDir(cfg); err != nil {
		t.Fatalf("second ensureDataDir: %v", err)
	}
}

func TestEnsureDataDirRejectsFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(f, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := ensureDataDir(&config.Config{DataDir: f}); err == nil {
		t.Fatalf("expected error for non-directory data dir")
	}
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "fleeting version "+version) {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestInvalidConfigFails(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run("--log-format", "xml", "credential", "list"); err == nil {
		t.Fatalf("expected config validation error")
	}
}

func TestCredentialLifecycle(t *testing.T) {
	h := newHarness(t)
	never := strings.TrimSpace(h.mustRun(t, "credential", "issue", "svc-a", "--never"))
	if len(never) != 32 {
		t.Fatalf("unexpected token %q", never)
	}
	week := strings.TrimSpace(h.mustRun(t, "credential", "issue", "ci", "--days", "7"))

	if out := h.mustRun(t, "credential", "validate", never); strings.TrimSpace(out) != "valid" {
		t.Fatalf("validate out=%q", out)
	}
	if _, err := h.run("credential", "validate", strings.Repeat("z", 32)); !errors.Is(err, errInvalidCredential) {
		t.Fatalf("expected invalid credential, got %v", err)
	}

	h.clock.Advance(7 * 24 * time.Hour)
	if _, err := h.run("credential", "validate", week); !errors.Is(err, errInvalidCredential) {
		t.Fatalf("expected expired credential to be invalid, got %v", err)
	}
	h.mustRun(t, "credential", "validate", never)

	out := h.mustRun(t, "credential", "list", "-o", "yaml")
	var rows []struct {
		ID      int64  `yaml:"id"`
		Name    string `yaml:"name"`
		Token   string `yaml:"token"`
		Expires string `yaml:"expires"`
		Expired bool   `yaml:"expired"`
	}
	if err := yaml.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("yaml: %v\n%s", err, out)
	}
	if len(rows) != 2 {
		t.Fatalf("rows=%+v", rows)
	}
	if rows[0].Name != "svc-a" || rows[0].Expires != "never" || rows[0].Expired || rows[0].Token != never {
		t.Fatalf("row0=%+v", rows[0])
	}
	if rows[1].Name != "ci" || !rows[1].Expired {
		t.Fatalf("row1=%+v", rows[1])
	}

	table := h.mustRun(t, "credential", "list")
	if !strings.Contains(table, "NAME") || !strings.Contains(table, "never") || !strings.Contains(table, "(expired)") {
		t.Fatalf("table:\n%s", table)
	}

	h.mustRun(t, "credential", "remove", fmt.Sprint(rows[1].ID))
	// removing again is not an error
	h.mustRun(t, "credential", "remove", fmt.Sprint(rows[1].ID))
	out = h.mustRun(t, "credential", "list", "--output", "yaml")
	if strings.Contains(out, "name: ci") {
		t.Fatalf("credential not removed:\n%s", out)
	}
}

func TestCredentialIssueFlags(t *testing.T) {
	h := newHarness(t)
	cases := [][]string{
		{"credential", "issue", "x"},
		{"credential", "issue", "x", "--days", "0"},
		{"credential", "issue", "x", "--days", "3", "--never"},
		{"credential", "issue", " ", "--never"},
		{"credential", "issue", "--never"},
	}
	for _, args := range cases {
		if _, err := h.run(args...); err == nil {
			t.Fatalf("%v: expected error", args)
		}
	}
}

func TestListRejectsUnknownFormat(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run("blob", "list", "-o", "xml"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestBlobListAndRemove(t *testing.T) {
	h := newHarness(t)
	tok := strings.TrimSpace(h.mustRun(t, "credential", "issue", "up", "--never"))
	rec := h.upload(t, tok, "notes.txt", 1)

	table := h.mustRun(t, "blob", "list")
	if !strings.Contains(table, "notes.txt") || !strings.Contains(table, rec.StorageName) || !strings.Contains(table, "5 B") {
		t.Fatalf("table:\n%s", table)
	}
	if strings.Contains(table, "(expired)") {
		t.Fatalf("fresh blob flagged expired:\n%s", table)
	}

	h.clock.Advance(2 * time.Hour)
	out := h.mustRun(t, "blob", "list", "-o", "yaml")
	var rows []struct {
		ID       int64  `yaml:"id"`
		Token    string `yaml:"token"`
		Filename string `yaml:"filename"`
		Expired  bool   `yaml:"expired"`
	}
	if err := yaml.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("yaml: %v\n%s", err, out)
	}
	if len(rows) != 1 || rows[0].Token != rec.PublicToken || !rows[0].Expired {
		t.Fatalf("rows=%+v", rows)
	}

	h.mustRun(t, "blob", "remove", fmt.Sprint(rec.ID))
	if _, err := os.Stat(filepath.Join(h.dataDir, config.BlobDirName, rec.StorageName)); !os.IsNotExist(err) {
		t.Fatalf("bytes not removed: %v", err)
	}
	if _, err := h.run("blob", "remove", fmt.Sprint(rec.ID)); err == nil {
		t.Fatalf("expected not found on second remove")
	}
	if _, err := h.run("blob", "remove", "abc"); err == nil {
		t.Fatalf("expected invalid id error")
	}
}

func TestReapCommand(t *testing.T) {
	h := newHarness(t)
	never := strings.TrimSpace(h.mustRun(t, "credential", "issue", "keep", "--never"))
	h.mustRun(t, "credential", "issue", "short", "--days", "1")
	h.upload(t, never, "a.txt", 1)
	h.upload(t, never, "b.txt", 48)

	out := h.mustRun(t, "reap")
	if !strings.Contains(out, "files: 0,") || !strings.Contains(out, "credentials: 0,") {
		t.Fatalf("premature reap: %s", out)
	}

	h.clock.Advance(25 * time.Hour)
	out = h.mustRun(t, "reap")
	if !strings.Contains(out, "files: 1,") || !strings.Contains(out, "blob records: 1,") || !strings.Contains(out, "credentials: 1,") {
		t.Fatalf("reap output: %s", out)
	}
	list := h.mustRun(t, "blob", "list")
	if strings.Contains(list, "a.txt") || !strings.Contains(list, "b.txt") {
		t.Fatalf("blob list after reap:\n%s", list)
	}
	h.mustRun(t, "credential", "validate", never)
}

func TestPurgeCommand(t *testing.T) {
	h := newHarness(t)
	tok := strings.TrimSpace(h.mustRun(t, "credential", "issue", "p", "--never"))
	h.upload(t, tok, "a.txt", 100)
	h.upload(t, tok, "b.txt", 100)

	if _, err := h.run("purge", "everything"); err == nil {
		t.Fatalf("expected invalid target error")
	}
	out := h.mustRun(t, "purge", "images")
	if !strings.Contains(out, "files: 2, blob records: 2, credentials: 0") {
		t.Fatalf("purge images: %s", out)
	}
	h.mustRun(t, "credential", "validate", tok)
	out = h.mustRun(t, "purge", "all")
	if !strings.Contains(out, "credentials: 1") {
		t.Fatalf("purge all: %s", out)
	}
	if _, err := h.run("credential", "validate", tok); !errors.Is(err, errInvalidCredential) {
		t.Fatalf("credential survived purge: %v", err)
	}
}

func TestServe(t *testing.T) {
	h := newHarness(t)
	cfg, err := config.Load(config.Override("data_dir", h.dataDir), config.Override("metrics_token", "s3cret"))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	c := &cli{clock: h.clock, cfg: cfg, logger: newLogger(io.Discard, cfg)}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	var resp *http.Response
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err = http.Get(base + "/readyz")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status=%d", resp.StatusCode)
	}

	resp, err = http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("metrics without token status=%d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("serve did not stop")
	}
}
