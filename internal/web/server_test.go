package web

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flitsinc/go-duet/internal/testutil"
)

func TestBuiltinDashboard(t *testing.T) {
	client := testutil.NewInProcessClient((&Server{}).Handler())
	resp, err := client.Get("http://in-process/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, err := testutil.ReadAll(resp)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "/api/streams/ws") {
		t.Fatalf("dashboard does not follow the event stream")
	}
	if resp.Header.Get("Cache-Control") != "no-store" {
		t.Fatalf("expected no-store cache header")
	}
}

func TestDirOverridesBuiltin(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("custom"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	client := testutil.NewInProcessClient((&Server{Dir: dir}).Handler())
	resp, err := client.Get("http://in-process/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := testutil.ReadAll(resp)
	if string(body) != "custom" {
		t.Fatalf("unexpected body %q", body)
	}
}
