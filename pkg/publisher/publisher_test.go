package publisher

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/krkn-chaos/krkn-lib-sub000/pkg/archive"
	"github.com/krkn-chaos/krkn-lib-sub000/pkg/config"
)

func writeB64File(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func TestPublishVolumesSucceeds(t *testing.T) {
	dir := t.TempDir()
	var putReceived []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/presigned-url":
			w.Write([]byte("http://" + r.Host + "/put-target"))
		case r.Method == http.MethodPut && r.URL.Path == "/put-target":
			buf := make([]byte, 1024)
			n, _ := r.Body.Read(buf)
			putReceived = buf[:n]
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	b64Path := writeB64File(t, dir, "bk00.tar.b64", "hello world")
	cfg := &config.Config{APIURL: server.URL, Username: "u", Password: "p", BackupThreads: 2, MaxRetries: 2}
	pub := New(cfg, nil)

	result, err := pub.PublishVolumes(context.Background(), "mygroup", "req-1", "bk", "", []archive.Volume{
		{Sequence: 0, LocalPath: b64Path},
	})
	if err != nil {
		t.Fatalf("PublishVolumes: %v", err)
	}
	if len(result.Uploaded) != 1 {
		t.Fatalf("expected 1 uploaded file, got %+v", result)
	}
	if string(putReceived) != "hello world" {
		t.Errorf("server received %q", putReceived)
	}
	if _, err := os.Stat(result.Uploaded[0]); !os.IsNotExist(err) {
		t.Errorf("expected uploaded file to be removed, stat err = %v", err)
	}
}

func TestPublishVolumesExhaustsRetries(t *testing.T) {
	dir := t.TempDir()
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/presigned-url":
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	b64Path := writeB64File(t, dir, "bk00.tar.b64", "payload")
	cfg := &config.Config{APIURL: server.URL, Username: "u", Password: "p", BackupThreads: 1, MaxRetries: 1}
	pub := New(cfg, nil)

	result, err := pub.PublishVolumes(context.Background(), "g", "req-2", "bk", "", []archive.Volume{
		{Sequence: 0, LocalPath: b64Path},
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if len(result.Failed) != 1 || result.Failed[0] != 0 {
		t.Fatalf("expected sequence 0 to be reported failed, got %+v", result)
	}
	if atomic.LoadInt32(&attempts) < 2 {
		t.Errorf("expected at least 2 attempts (1 retry), got %d", attempts)
	}
}

func TestPublishVolumesSkipsFilesWithoutB64Suffix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bk00.tar")
	if err := os.WriteFile(path, []byte("not base64 named"), 0o600); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	cfg := &config.Config{APIURL: "http://unused.example", Username: "u", Password: "p", BackupThreads: 1, MaxRetries: 0}
	pub := New(cfg, nil)

	result, err := pub.PublishVolumes(context.Background(), "g", "req-3", "bk", "", []archive.Volume{
		{Sequence: 0, LocalPath: path},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Uploaded) != 0 || len(result.Failed) != 0 {
		t.Fatalf("expected no tasks attempted, got %+v", result)
	}
}
