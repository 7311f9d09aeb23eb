package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"gocloud.dev/blob"

	slurphttp "github.com/ligustah/bucketslurp/internal/http"
	"github.com/ligustah/bucketslurp/internal/manifest"
	"github.com/ligustah/bucketslurp/internal/provider"
)

// fakeAdapter serves a fixed listing from memory.
type fakeAdapter struct {
	objects []provider.Object
	listErr error
	fail    map[string]bool

	mu         sync.Mutex
	downloaded []string
}

func (f *fakeAdapter) Module() string { return "fake" }
func (f *fakeAdapter) Bucket() string { return "fakebucket" }

func (f *fakeAdapter) List(ctx context.Context, prefix string) ([]provider.Object, error) {
	return f.objects, f.listErr
}

func (f *fakeAdapter) Download(ctx context.Context, key string, w io.Writer) error {
	f.mu.Lock()
	f.downloaded = append(f.downloaded, key)
	f.mu.Unlock()

	if f.fail[key] {
		io.WriteString(w, "partial")
		return errors.New("connection reset")
	}
	_, err := io.WriteString(w, "content of "+key)
	return err
}

func (f *fakeAdapter) ObjectURL(key string) string {
	return "https://fakebucket.fake.example/" + key
}

func fakeRegistry(a *fakeAdapter, built *atomic.Int32) *provider.Registry {
	return provider.NewRegistry(provider.Module{
		Code:     "fake",
		Name:     "Fake Storage",
		Keywords: []string{"fake"},
		New: func(context.Context, provider.Target, provider.Deps) (provider.Adapter, error) {
			if built != nil {
				built.Add(1)
			}
			return a, nil
		},
	})
}

func openMemBucket(t *testing.T) *blob.Bucket {
	t.Helper()
	bucket, err := OpenOutput(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	t.Cleanup(func() { bucket.Close() })
	return bucket
}

func TestRunEndToEnd(t *testing.T) {
	const objectSize = 200
	keys := []string{"a.txt", "b.jpg", "dir/c", "dir/d.txt", "e.txt"}
	content := func(key string) []byte {
		return bytes.Repeat([]byte(key[:1]), objectSize)
	}

	var objectGets atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/mybucket" {
			w.Header().Set("Content-Type", "application/xml")
			var entries strings.Builder
			truncated, next := false, ""
			page := keys[3:]
			if r.URL.Query().Get("marker") == "" {
				page, truncated, next = keys[:3], true, keys[2]
			}
			for _, k := range page {
				fmt.Fprintf(&entries, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", k, objectSize)
			}
			fmt.Fprintf(w, "<ListBucketResult><IsTruncated>%t</IsTruncated><NextMarker>%s</NextMarker>%s</ListBucketResult>",
				truncated, next, entries.String())
			return
		}

		key := strings.TrimPrefix(r.URL.Path, "/mybucket/")
		objectGets.Add(1)
		w.Write(content(key))
	}))
	defer server.Close()

	ali, ok := provider.DefaultRegistry().Lookup("ali")
	if !ok {
		t.Fatal("ali module not registered")
	}
	ali.Keywords = []string{"127.0.0.1"}

	client, err := slurphttp.NewClient(slurphttp.DefaultOptions())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	out := openMemBucket(t)
	logDir := t.TempDir()
	var progressOut bytes.Buffer

	ctx := context.Background()
	results := Run(ctx, []provider.Target{{URL: server.URL + "/mybucket", Module: "ali"}}, Options{
		Workers:        2,
		Output:         out,
		LogDir:         logDir,
		Registry:       provider.NewRegistry(ali),
		Deps:           provider.Deps{HTTP: client},
		ProgressOutput: &progressOut,
	})

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	res := results[0]
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Bucket != "mybucket" {
		t.Errorf("expected bucket mybucket, got %s", res.Bucket)
	}
	if res.Listed != 5 || res.Downloaded != 5 || res.Failed != 0 {
		t.Errorf("unexpected counts: listed=%d downloaded=%d failed=%d", res.Listed, res.Downloaded, res.Failed)
	}
	if res.Stats.TotalSize != 1000 {
		t.Errorf("expected total size 1000, got %d", res.Stats.TotalSize)
	}
	if got := objectGets.Load(); got != 5 {
		t.Errorf("expected 5 object requests, got %d", got)
	}

	for _, k := range keys {
		data, err := out.ReadAll(ctx, "mybucket/"+k)
		if err != nil {
			t.Errorf("read %s: %v", k, err)
			continue
		}
		if !bytes.Equal(data, content(k)) {
			t.Errorf("content mismatch for %s", k)
		}
	}

	logData, err := os.ReadFile(manifest.Path(logDir, "ali", "mybucket"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	log := string(logData)
	if !strings.HasPrefix(log, "Total files: 5\nTotal size: 0.00 MB\n\nFile URLs:\n") {
		t.Errorf("unexpected manifest header:\n%s", log)
	}
	if !strings.Contains(log, server.URL+"/mybucket/dir/d.txt\n") {
		t.Errorf("manifest missing object URL:\n%s", log)
	}

	if !strings.Contains(progressOut.String(), "1000 B / 1000 B | Complete!") {
		t.Errorf("progress did not reach listed total:\n%s", progressOut.String())
	}
}

func TestRunFailuresDoNotStopSiblings(t *testing.T) {
	a := &fakeAdapter{
		objects: []provider.Object{
			{Key: "ok-1", Size: 10},
			{Key: "broken", Size: 20},
			{Key: "ok-2", Size: 30},
			{Key: "ok-3", Size: 40},
		},
		fail: map[string]bool{"broken": true},
	}
	out := openMemBucket(t)
	var progressOut bytes.Buffer

	res := RunBucket(context.Background(), provider.Target{URL: "https://fakebucket.fake.example", Module: "fake"}, Options{
		Workers:        3,
		Output:         out,
		LogDir:         t.TempDir(),
		Registry:       fakeRegistry(a, nil),
		ProgressOutput: &progressOut,
	})

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Downloaded != 3 || res.Failed != 1 {
		t.Errorf("expected 3 downloaded, 1 failed; got %d, %d", res.Downloaded, res.Failed)
	}
	if len(a.downloaded) != 4 {
		t.Errorf("expected 4 download attempts, got %d", len(a.downloaded))
	}

	ctx := context.Background()
	exists, err := out.Exists(ctx, "fakebucket/broken")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("failed download must not leave an object behind")
	}
	data, err := out.ReadAll(ctx, "fakebucket/ok-2")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "content of ok-2" {
		t.Errorf("unexpected content %q", data)
	}

	if !strings.Contains(progressOut.String(), "100 B / 100 B | Complete!") {
		t.Errorf("failed object should count toward progress:\n%s", progressOut.String())
	}
}

func TestRunModuleMismatchSkipsBeforeNetwork(t *testing.T) {
	var built atomic.Int32
	a := &fakeAdapter{objects: []provider.Object{{Key: "x", Size: 1}}}

	res := RunBucket(context.Background(), provider.Target{URL: "https://bucket.s3.amazonaws.com", Module: "fake"}, Options{
		Output:   openMemBucket(t),
		LogDir:   t.TempDir(),
		Registry: fakeRegistry(a, &built),
	})

	if !errors.Is(res.Err, provider.ErrModuleMismatch) {
		t.Errorf("expected ErrModuleMismatch, got %v", res.Err)
	}
	if built.Load() != 0 {
		t.Error("adapter must not be built for a mismatched URL")
	}
}

func TestRunUnknownModule(t *testing.T) {
	res := RunBucket(context.Background(), provider.Target{URL: "https://b.example", Module: "ftp"}, Options{
		Output: openMemBucket(t),
		LogDir: t.TempDir(),
	})
	if !errors.Is(res.Err, provider.ErrNoHandler) {
		t.Errorf("expected ErrNoHandler, got %v", res.Err)
	}
}

func TestRunListingErrorSkipsBucket(t *testing.T) {
	logDir := t.TempDir()
	listErr := errors.New("403 forbidden")
	a := &fakeAdapter{listErr: listErr}

	res := RunBucket(context.Background(), provider.Target{URL: "https://fakebucket.fake.example", Module: "fake"}, Options{
		Output:   openMemBucket(t),
		LogDir:   logDir,
		Registry: fakeRegistry(a, nil),
	})

	if !errors.Is(res.Err, listErr) {
		t.Errorf("expected listing error, got %v", res.Err)
	}
	if _, err := os.Stat(manifest.Path(logDir, "fake", "fakebucket")); !os.IsNotExist(err) {
		t.Errorf("no manifest expected for a skipped bucket, stat err = %v", err)
	}
}

func TestRunPartialListingContinues(t *testing.T) {
	listErr := errors.New("page 2 failed")
	a := &fakeAdapter{
		objects: []provider.Object{{Key: "a", Size: 1}, {Key: "b", Size: 2}},
		listErr: listErr,
	}

	res := RunBucket(context.Background(), provider.Target{URL: "https://fakebucket.fake.example", Module: "fake"}, Options{
		Output:         openMemBucket(t),
		LogDir:         t.TempDir(),
		Registry:       fakeRegistry(a, nil),
		ProgressOutput: io.Discard,
	})

	if !errors.Is(res.Err, listErr) {
		t.Errorf("expected listing error to be kept, got %v", res.Err)
	}
	if res.Downloaded != 2 {
		t.Errorf("expected partial results to be downloaded, got %d", res.Downloaded)
	}
}

func TestRunNoObjects(t *testing.T) {
	res := RunBucket(context.Background(), provider.Target{URL: "https://fakebucket.fake.example", Module: "fake"}, Options{
		Output:   openMemBucket(t),
		LogDir:   t.TempDir(),
		Registry: fakeRegistry(&fakeAdapter{}, nil),
	})
	if !errors.Is(res.Err, ErrNoObjects) {
		t.Errorf("expected ErrNoObjects, got %v", res.Err)
	}
}

func TestRunDryRun(t *testing.T) {
	logDir := t.TempDir()
	a := &fakeAdapter{objects: []provider.Object{{Key: "a.txt", Size: 5}, {Key: "b", Size: 7}}}

	res := RunBucket(context.Background(), provider.Target{URL: "https://fakebucket.fake.example", Module: "fake"}, Options{
		LogDir:   logDir,
		DryRun:   true,
		Registry: fakeRegistry(a, nil),
	})

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(a.downloaded) != 0 {
		t.Errorf("dry run must not download, got %v", a.downloaded)
	}
	if res.Stats.Count != 2 || res.Stats.TotalSize != 12 {
		t.Errorf("unexpected stats %+v", res.Stats)
	}

	data, err := os.ReadFile(manifest.Path(logDir, "fake", "fakebucket"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if !strings.Contains(string(data), "https://fakebucket.fake.example/a.txt\n") {
		t.Errorf("unexpected manifest:\n%s", data)
	}
}

func TestRunContinuesAfterBadBucket(t *testing.T) {
	a := &fakeAdapter{objects: []provider.Object{{Key: "a", Size: 1}}}
	targets := []provider.Target{
		{URL: "https://bucket.oss-cn-beijing.aliyuncs.com", Module: "fake"},
		{URL: "https://fakebucket.fake.example", Module: "fake"},
	}

	results := Run(context.Background(), targets, Options{
		Output:         openMemBucket(t),
		LogDir:         t.TempDir(),
		Registry:       fakeRegistry(a, nil),
		ProgressOutput: io.Discard,
	})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !errors.Is(results[0].Err, provider.ErrModuleMismatch) {
		t.Errorf("expected first bucket skipped, got %v", results[0].Err)
	}
	if results[1].Err != nil || results[1].Downloaded != 1 {
		t.Errorf("expected second bucket downloaded, got %+v", results[1])
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := Run(ctx, []provider.Target{{URL: "https://fakebucket.fake.example", Module: "fake"}}, Options{
		Output:   openMemBucket(t),
		LogDir:   t.TempDir(),
		Registry: fakeRegistry(&fakeAdapter{}, nil),
	})
	if len(results) != 0 {
		t.Errorf("expected no buckets processed after cancellation, got %d", len(results))
	}
}

func TestRunSkipsDirectoryMarkers(t *testing.T) {
	a := &fakeAdapter{objects: []provider.Object{{Key: "dir/", Size: 0}, {Key: "dir/a", Size: 3}}}

	res := RunBucket(context.Background(), provider.Target{URL: "https://fakebucket.fake.example", Module: "fake"}, Options{
		Output:         openMemBucket(t),
		LogDir:         t.TempDir(),
		Registry:       fakeRegistry(a, nil),
		ProgressOutput: io.Discard,
	})

	if res.Downloaded != 1 || res.Skipped != 1 || res.Failed != 0 {
		t.Errorf("expected 1 downloaded, 1 skipped, 0 failed; got %d, %d, %d", res.Downloaded, res.Skipped, res.Failed)
	}
	if len(a.downloaded) != 1 || a.downloaded[0] != "dir/a" {
		t.Errorf("expected only dir/a fetched, got %v", a.downloaded)
	}
}

func TestOpenOutputLocalDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "downloads")
	ctx := context.Background()

	bucket, err := OpenOutput(ctx, dir)
	if err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}
	defer bucket.Close()

	if err := bucket.WriteAll(ctx, "mybucket/dir/file.txt", []byte("hello"), nil); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "mybucket", "dir", "file.txt"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestDestKey(t *testing.T) {
	tests := []struct {
		bucket, key, want string
	}{
		{"b", "a.txt", "b/a.txt"},
		{"b", "dir/a.txt", "b/dir/a.txt"},
		{"b", "/abs/a.txt", "b/abs/a.txt"},
	}
	for _, tt := range tests {
		if got := destKey(tt.bucket, tt.key); got != tt.want {
			t.Errorf("destKey(%q, %q) = %q, want %q", tt.bucket, tt.key, got, tt.want)
		}
	}
}
