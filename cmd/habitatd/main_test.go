package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smartcat/habitat-core/internal/command"
	"github.com/smartcat/habitat-core/internal/infrastructure/database"
)

// writeTestConfig writes a config with MQTT and every external store
// disabled and returns its path and the database path.
func writeTestConfig(t *testing.T, port int) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "habitat.db")
	configPath := filepath.Join(dir, "config.yaml")

	content := fmt.Sprintf(`
site:
  id: test-habitat
database:
  path: %q
  wal_mode: true
  busy_timeout: 5
mqtt:
  enabled: false
influxdb:
  enabled: false
redis:
  enabled: false
logging:
  level: error
  format: text
  output: stderr
api:
  host: "127.0.0.1"
  port: %d
`, dbPath, port)
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath, dbPath
}

// execute runs the root command with args and returns its stdout.
func execute(ctx context.Context, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestConfigPath_Default(t *testing.T) {
	t.Setenv("HABITAT_CONFIG", "")

	opts := &RootOptions{}
	if got := opts.configPath(); got != defaultConfigPath {
		t.Errorf("configPath() = %q, want %q", got, defaultConfigPath)
	}
}

func TestConfigPath_EnvOverride(t *testing.T) {
	t.Setenv("HABITAT_CONFIG", "/custom/path/config.yaml")

	opts := &RootOptions{}
	if got := opts.configPath(); got != "/custom/path/config.yaml" {
		t.Errorf("configPath() = %q, want env value", got)
	}

	opts.ConfigPath = "/flag/config.yaml"
	if got := opts.configPath(); got != "/flag/config.yaml" {
		t.Errorf("configPath() = %q, flag should win over env", got)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(context.Background(), "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(out, "habitatd "+version) {
		t.Errorf("version output = %q, want prefix %q", out, "habitatd "+version)
	}
}

func TestServe_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := execute(ctx, "serve", "--config", "/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("serve should fail with invalid config path")
	}
}

func TestServe_MissingDatabasePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "site:\n  id: test\ndatabase:\n  path: \"\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := execute(context.Background(), "serve", "-c", path)
	if err == nil {
		t.Fatal("serve should fail with empty database path")
	}
}

func TestMigrate_UpStatusDown(t *testing.T) {
	configPath, _ := writeTestConfig(t, freePort(t))
	ctx := context.Background()

	out, err := execute(ctx, "migrate", "status", "-c", configPath)
	if err != nil {
		t.Fatalf("migrate status error = %v", err)
	}
	if strings.Count(out, "applied") != 0 || !strings.Contains(out, "pending") {
		t.Errorf("fresh database status = %q, want only pending migrations", out)
	}

	if _, err := execute(ctx, "migrate", "up", "-c", configPath); err != nil {
		t.Fatalf("migrate up error = %v", err)
	}

	out, err = execute(ctx, "migrate", "status", "-c", configPath)
	if err != nil {
		t.Fatalf("migrate status error = %v", err)
	}
	if strings.Contains(out, "pending") {
		t.Errorf("status after up = %q, want no pending migrations", out)
	}
	if !strings.Contains(out, "20260301_090300") {
		t.Errorf("status after up = %q, want the latest migration listed", out)
	}

	out, err = execute(ctx, "migrate", "down", "--steps", "2", "-c", configPath)
	if err != nil {
		t.Fatalf("migrate down error = %v", err)
	}
	if !strings.Contains(out, "rolled back 2") {
		t.Errorf("migrate down output = %q", out)
	}

	out, err = execute(ctx, "migrate", "status", "-c", configPath)
	if err != nil {
		t.Fatalf("migrate status error = %v", err)
	}
	if got := strings.Count(out, "pending"); got != 2 {
		t.Errorf("pending count after down = %d, want 2\n%s", got, out)
	}
}

func TestMigrate_DownRejectsZeroSteps(t *testing.T) {
	configPath, _ := writeTestConfig(t, freePort(t))

	if _, err := execute(context.Background(), "migrate", "down", "--steps", "0", "-c", configPath); err == nil {
		t.Fatal("migrate down --steps 0 should fail")
	}
}

func TestCommands_ResetStale(t *testing.T) {
	configPath, dbPath := writeTestConfig(t, freePort(t))
	ctx := context.Background()

	db, err := database.Open(database.Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	queue := command.NewQueue(db.DB, 10)
	if _, err := queue.EnqueueFor(ctx, "default", command.TypeHydrateNow, []byte(`{}`)); err != nil {
		t.Fatalf("EnqueueFor() error = %v", err)
	}
	claimed, err := queue.ClaimBatch(ctx, 10)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimBatch() = %d commands, error = %v", len(claimed), err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	out, err := execute(ctx, "commands", "reset-stale", "--timeout", "1ms", "-c", configPath)
	if err != nil {
		t.Fatalf("reset-stale error = %v", err)
	}
	if !strings.Contains(out, "reset 1 stale command(s)") {
		t.Errorf("reset-stale output = %q", out)
	}

	out, err = execute(ctx, "commands", "reset-stale", "--timeout", "1ms", "-c", configPath)
	if err != nil {
		t.Fatalf("reset-stale error = %v", err)
	}
	if !strings.Contains(out, "reset 0 stale command(s)") {
		t.Errorf("second reset-stale output = %q", out)
	}
}

func TestServe_StartupAndShutdown(t *testing.T) {
	port := freePort(t)
	configPath, _ := writeTestConfig(t, port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := execute(ctx, "serve", "-c", configPath)
		done <- err
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	deadline := time.Now().Add(10 * time.Second)
	healthy := false
	for time.Now().Before(deadline) {
		resp, err := http.Get(url) //nolint:noctx // test polling
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				healthy = true
				break
			}
		}
		select {
		case err := <-done:
			t.Fatalf("serve exited early: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
	}
	if !healthy {
		t.Fatal("server never became healthy")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned error on shutdown: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not stop after cancellation")
	}
}
