package mesh

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// cubeOBJ returns Cube(2) encoded as OBJ.
func cubeOBJ(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := WriteOBJ(&buf, Cube(2)); err != nil {
		t.Fatalf("WriteOBJ: %v", err)
	}
	return buf.Bytes()
}

func meshServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchCloud_Success(t *testing.T) {
	srv := meshServer(t, cubeOBJ(t))

	src, err := FetchCloud(context.Background(), srv.URL+"/models/cube.obj?rev=2", WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("FetchCloud() error: %v", err)
	}
	m, ok := src.(*TriangleMesh)
	if !ok {
		t.Fatalf("FetchCloud() returned %T, want *TriangleMesh", src)
	}
	if len(m.Vertices) != 8 || len(m.Faces) != 12 {
		t.Errorf("cube has %d vertices, %d faces; want 8, 12", len(m.Vertices), len(m.Faces))
	}
}

func TestFetchCloud_PointCloudJSON(t *testing.T) {
	srv := meshServer(t, []byte(`{"positions":[[0,0,0],[1,2,3]]}`))

	src, err := FetchCloud(context.Background(), srv.URL+"/scan.json", WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("FetchCloud() error: %v", err)
	}
	pc, err := src.Cloud()
	if err != nil {
		t.Fatal(err)
	}
	if len(pc.Positions) != 2 {
		t.Errorf("len(Positions) = %d, want 2", len(pc.Positions))
	}
}

func TestFetchCloud_EmptyURL(t *testing.T) {
	_, err := FetchCloud(context.Background(), "")
	if err == nil {
		t.Fatal("expected error for empty URL")
	}
	if !strings.Contains(err.Error(), "URL is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFetchCloud_ServerError_Retries(t *testing.T) {
	body := cubeOBJ(t)
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := attempts.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	src, err := FetchCloud(context.Background(), srv.URL+"/cube.obj",
		WithHTTPClient(srv.Client()),
		WithMaxRetries(3),
		WithBaseBackoff(1*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("FetchCloud() error: %v", err)
	}
	if src == nil {
		t.Fatal("FetchCloud() returned nil")
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestFetchCloud_AllRetriesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := FetchCloud(context.Background(), srv.URL+"/cube.obj",
		WithHTTPClient(srv.Client()),
		WithMaxRetries(2),
		WithBaseBackoff(1*time.Millisecond),
	)
	if err == nil {
		t.Fatal("expected error after all retries exhausted")
	}
	if !strings.Contains(err.Error(), "all 2 attempts failed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFetchCloud_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FetchCloud(ctx, srv.URL+"/cube.obj",
		WithHTTPClient(srv.Client()),
		WithMaxRetries(3),
		WithBaseBackoff(1*time.Millisecond),
	)
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestFetchCloud_NoRetryOnParseError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		_, _ = w.Write([]byte("f 1 2 9\n"))
	}))
	defer srv.Close()

	_, err := FetchCloud(context.Background(), srv.URL+"/broken.obj",
		WithHTTPClient(srv.Client()),
		WithMaxRetries(3),
		WithBaseBackoff(1*time.Millisecond),
	)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("expected 1 attempt (no retry on parse error), got %d", got)
	}
}

func TestFetchCloud_UnsupportedExtension(t *testing.T) {
	srv := meshServer(t, []byte("solid x"))

	_, err := FetchCloud(context.Background(), srv.URL+"/part.stl", WithHTTPClient(srv.Client()), WithMaxRetries(1))
	if err == nil || !strings.Contains(err.Error(), "unsupported mesh format") {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
}

func TestOpenCloud(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cube.obj")
	if err := os.WriteFile(path, cubeOBJ(t), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenCloud(context.Background(), path); err != nil {
		t.Errorf("OpenCloud(local) error: %v", err)
	}

	srv := meshServer(t, cubeOBJ(t))
	if _, err := OpenCloud(context.Background(), srv.URL+"/cube.obj", WithHTTPClient(srv.Client())); err != nil {
		t.Errorf("OpenCloud(remote) error: %v", err)
	}
}

func TestIsRemote(t *testing.T) {
	tests := map[string]bool{
		"http://host/a.obj":  true,
		"https://host/a.obj": true,
		"/data/a.obj":        false,
		"a.obj":              false,
		"ftp://host/a.obj":   false,
	}
	for in, want := range tests {
		if got := IsRemote(in); got != want {
			t.Errorf("IsRemote(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFetchOptions_Defaults(t *testing.T) {
	cfg := defaultFetchConfig()
	if cfg.timeout != 30*time.Second {
		t.Errorf("default timeout = %v, want 30s", cfg.timeout)
	}
	if cfg.maxRetries != 3 {
		t.Errorf("default maxRetries = %d, want 3", cfg.maxRetries)
	}
	if cfg.baseBackoff != 500*time.Millisecond {
		t.Errorf("default baseBackoff = %v, want 500ms", cfg.baseBackoff)
	}
	if cfg.client != nil {
		t.Error("default client should be nil")
	}
}
