//go:build integration

// Package testutils provides shared test infrastructure for integration tests.
package testutils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/s3blob"
)

// TestObject is an object seeded into a test bucket.
type TestObject struct {
	Key  string
	Data []byte
}

// GenerateTestData generates deterministic test data of the given size.
func GenerateTestData(t *testing.T, size int64) []byte {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}

// MinioEnv contains connection information for a Minio test environment.
type MinioEnv struct {
	Container testcontainers.Container
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Close terminates the Minio container.
func (e *MinioEnv) Close(ctx context.Context) error {
	if e.Container != nil {
		return e.Container.Terminate(ctx)
	}
	return nil
}

// HTTPURL returns the public path-style URL of a bucket.
func (e *MinioEnv) HTTPURL(bucketName string) string {
	return fmt.Sprintf("http://%s/%s", e.Endpoint, bucketName)
}

// BlobURL returns the gocloud s3blob URL of a bucket.
func (e *MinioEnv) BlobURL(bucketName string) string {
	return fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1",
		bucketName,
		e.Endpoint,
	)
}

// OpenBucket opens a gocloud bucket connection to a Minio bucket.
func (e *MinioEnv) OpenBucket(ctx context.Context, bucketName string) (*blob.Bucket, error) {
	return blob.OpenBucket(ctx, e.BlobURL(bucketName))
}

// Seed uploads objects into a Minio bucket.
func (e *MinioEnv) Seed(t *testing.T, ctx context.Context, bucketName string, objects []TestObject) {
	t.Helper()

	bucket, err := e.OpenBucket(ctx, bucketName)
	if err != nil {
		t.Fatalf("open bucket %s: %v", bucketName, err)
	}
	defer bucket.Close()

	for _, o := range objects {
		if err := bucket.WriteAll(ctx, o.Key, o.Data, nil); err != nil {
			t.Fatalf("seed %s/%s: %v", bucketName, o.Key, err)
		}
	}
}

// StartMinioContainer starts a Minio container with the given buckets
// created. Buckets listed in public allow anonymous list and download.
func StartMinioContainer(t *testing.T, ctx context.Context, buckets []string, public []string) *MinioEnv {
	t.Helper()

	const (
		accessKey = "minioadmin"
		secretKey = "minioadmin"
	)

	// Create a network for minio and mc to communicate
	networkName := fmt.Sprintf("minio-test-net-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{
			Name: networkName,
		},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { network.Remove(ctx) })

	minioReq := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Networks:     []string{networkName},
		NetworkAliases: map[string][]string{
			networkName: {"minio"},
		},
		Env: map[string]string{
			"MINIO_ROOT_USER":     accessKey,
			"MINIO_ROOT_PASSWORD": secretKey,
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
	}

	minioContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: minioReq,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}

	createBucketsWithMC(t, ctx, networkName, accessKey, secretKey, buckets, public)

	host, err := minioContainer.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}

	port, err := minioContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("get container port: %v", err)
	}

	// gocloud's s3blob reads credentials from the environment.
	t.Setenv("AWS_ACCESS_KEY_ID", accessKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", secretKey)

	return &MinioEnv{
		Container: minioContainer,
		Endpoint:  fmt.Sprintf("%s:%s", host, port.Port()),
		AccessKey: accessKey,
		SecretKey: secretKey,
	}
}

// createBucketsWithMC creates buckets using a separate minio/mc container.
func createBucketsWithMC(t *testing.T, ctx context.Context, networkName, accessKey, secretKey string, buckets, public []string) {
	t.Helper()

	cmds := []string{fmt.Sprintf("/usr/bin/mc alias set myminio http://minio:9000 %s %s", accessKey, secretKey)}
	for _, b := range buckets {
		cmds = append(cmds, fmt.Sprintf("/usr/bin/mc mb myminio/%s", b))
	}
	for _, b := range public {
		cmds = append(cmds, fmt.Sprintf("/usr/bin/mc anonymous set public myminio/%s", b))
	}

	// mc container runs, creates the buckets, then exits
	mcReq := testcontainers.ContainerRequest{
		Image:      "minio/mc:latest",
		Networks:   []string{networkName},
		Entrypoint: []string{"/bin/sh", "-c"},
		Cmd:        []string{strings.Join(cmds, " && ") + "; exit 0"},
		WaitingFor: wait.ForExit(),
	}

	mcContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: mcReq,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start mc container: %v", err)
	}
	defer mcContainer.Terminate(ctx)
}

// CompareReaderToData compares reader output with expected data in chunks.
func CompareReaderToData(t *testing.T, reader io.Reader, expected []byte) {
	t.Helper()

	buf := make([]byte, 64*1024)
	offset := 0

	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if offset+n > len(expected) {
				t.Fatalf("read more data than expected: offset=%d, n=%d, expected len=%d",
					offset, n, len(expected))
			}
			if !bytes.Equal(buf[:n], expected[offset:offset+n]) {
				t.Fatalf("data mismatch at offset %d", offset)
			}
			offset += n
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read error at offset %d: %v", offset, err)
		}
	}

	if offset != len(expected) {
		t.Fatalf("incomplete read: got %d bytes, want %d", offset, len(expected))
	}
}
