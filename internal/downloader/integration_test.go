//go:build integration

package downloader_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ligustah/bucketslurp/internal/config"
	"github.com/ligustah/bucketslurp/internal/downloader"
	slurphttp "github.com/ligustah/bucketslurp/internal/http"
	"github.com/ligustah/bucketslurp/internal/manifest"
	"github.com/ligustah/bucketslurp/internal/provider"
	"github.com/ligustah/bucketslurp/internal/testutils"
)

func seedObjects(t *testing.T) []testutils.TestObject {
	t.Helper()
	return []testutils.TestObject{
		{Key: "readme.txt", Data: []byte("hello from minio")},
		{Key: "images/logo.png", Data: testutils.GenerateTestData(t, 4096)},
		{Key: "backups/2024/db.sql.gz", Data: testutils.GenerateTestData(t, 1024*1024)},
		{Key: "dir with space/file name.txt", Data: []byte("spaces")},
	}
}

// registryFor returns a registry holding only the given module, accepting
// any URL that contains keyword.
func registryFor(t *testing.T, code, keyword string) *provider.Registry {
	t.Helper()
	m, ok := provider.DefaultRegistry().Lookup(code)
	if !ok {
		t.Fatalf("module %s not registered", code)
	}
	m.Keywords = []string{keyword}
	return provider.NewRegistry(m)
}

func newClient(t *testing.T) *slurphttp.Client {
	t.Helper()
	client, err := slurphttp.NewClient(slurphttp.DefaultOptions())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestIntegrationS3ModuleToMinioOutput(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	t.Log("Starting Minio container...")
	env := testutils.StartMinioContainer(t, ctx, []string{"source", "dest"}, nil)
	defer func() {
		if err := env.Close(ctx); err != nil {
			t.Logf("failed to terminate minio container: %v", err)
		}
	}()

	objects := seedObjects(t)
	env.Seed(t, ctx, "source", objects)

	out, err := downloader.OpenOutput(ctx, env.BlobURL("dest"))
	if err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}
	defer out.Close()

	logDir := t.TempDir()
	results := downloader.Run(ctx, []provider.Target{{URL: env.HTTPURL("source"), Module: "s3"}}, downloader.Options{
		Workers:  2,
		Output:   out,
		LogDir:   logDir,
		Registry: registryFor(t, "s3", "source"),
		Deps: provider.Deps{
			HTTP: newClient(t),
			Credentials: config.Credentials{S3: config.S3Credentials{
				AccessKeyID:     env.AccessKey,
				SecretAccessKey: env.SecretKey,
			}},
		},
		ProgressOutput: os.Stderr,
	})

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	res := results[0]
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Downloaded != len(objects) || res.Failed != 0 {
		t.Fatalf("downloaded=%d failed=%d, want %d/0", res.Downloaded, res.Failed, len(objects))
	}

	for _, o := range objects {
		r, err := out.NewReader(ctx, "source/"+o.Key, nil)
		if err != nil {
			t.Errorf("open %s: %v", o.Key, err)
			continue
		}
		testutils.CompareReaderToData(t, r, o.Data)
		r.Close()
	}

	data, err := os.ReadFile(manifest.Path(logDir, "s3", "source"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	want := fmt.Sprintf("Total files: %d\n", len(objects))
	if string(data[:len(want)]) != want {
		t.Errorf("unexpected manifest:\n%s", data)
	}
}

func TestIntegrationAnonymousListingToLocalDir(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	env := testutils.StartMinioContainer(t, ctx, []string{"open"}, []string{"open"})
	defer env.Close(ctx)

	objects := seedObjects(t)
	env.Seed(t, ctx, "open", objects)

	outDir := t.TempDir()
	out, err := downloader.OpenOutput(ctx, outDir)
	if err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}
	defer out.Close()

	// MinIO answers ListObjects v1 requests with the same XML the marker
	// based providers use.
	for _, code := range []string{"ali", "ibm"} {
		t.Run(code, func(t *testing.T) {
			res := downloader.RunBucket(ctx, provider.Target{URL: env.HTTPURL("open"), Module: code}, downloader.Options{
				Workers:  3,
				Output:   out,
				LogDir:   t.TempDir(),
				Prefix:   "",
				Registry: registryFor(t, code, "open"),
				Deps:     provider.Deps{HTTP: newClient(t)},
			})
			if res.Err != nil {
				t.Fatalf("unexpected error: %v", res.Err)
			}
			if res.Downloaded != len(objects) {
				t.Fatalf("downloaded %d, want %d", res.Downloaded, len(objects))
			}

			for _, o := range objects {
				data, err := os.ReadFile(filepath.Join(outDir, "open", filepath.FromSlash(o.Key)))
				if err != nil {
					t.Errorf("read %s: %v", o.Key, err)
					continue
				}
				if len(data) != len(o.Data) {
					t.Errorf("%s: got %d bytes, want %d", o.Key, len(data), len(o.Data))
				}
			}
		})
	}
}

func TestIntegrationPrefixAndPrivateBucket(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	env := testutils.StartMinioContainer(t, ctx, []string{"private", "open"}, []string{"open"})
	defer env.Close(ctx)

	objects := seedObjects(t)
	env.Seed(t, ctx, "private", objects)
	env.Seed(t, ctx, "open", objects)

	// Anonymous listing of a private bucket is refused; the bucket is skipped.
	res := downloader.RunBucket(ctx, provider.Target{URL: env.HTTPURL("private"), Module: "ali"}, downloader.Options{
		LogDir:   t.TempDir(),
		DryRun:   true,
		Registry: registryFor(t, "ali", "private"),
		Deps:     provider.Deps{HTTP: newClient(t)},
	})
	if res.Err == nil || res.Listed != 0 {
		t.Errorf("expected private bucket to be skipped, got %+v", res)
	}

	res = downloader.RunBucket(ctx, provider.Target{URL: env.HTTPURL("open"), Module: "ali"}, downloader.Options{
		LogDir:   t.TempDir(),
		DryRun:   true,
		Prefix:   "images/",
		Registry: registryFor(t, "ali", "open"),
		Deps:     provider.Deps{HTTP: newClient(t)},
	})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Listed != 1 {
		t.Errorf("expected 1 object under images/, got %d", res.Listed)
	}
}
