package provider

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"

	"github.com/ligustah/bucketslurp/internal/config"
	slurphttp "github.com/ligustah/bucketslurp/internal/http"
)

// Common errors.
var (
	// ErrNoHandler is returned by Registry.New for an unknown module code.
	ErrNoHandler = errors.New("provider: no handler for module")

	// ErrModuleMismatch is returned when a bucket URL does not contain any
	// keyword of the selected module.
	ErrModuleMismatch = errors.New("provider: bucket URL does not match module")

	// ErrInvalidTarget is returned when a bucket URL cannot be parsed.
	ErrInvalidTarget = errors.New("provider: invalid bucket URL")
)

// DefaultMaxPages bounds every listing loop.
const DefaultMaxPages = 10000

// downloadBufferSize is the chunk size used when streaming objects.
const downloadBufferSize = 8 * 1024

// Object is a single listed object.
type Object struct {
	Key  string
	Size uint64
}

// Target is a bucket URL paired with the module that should handle it.
type Target struct {
	URL    string
	Module string
}

// BucketName returns the name used for local directories: the first path
// segment when the URL has a path, otherwise the first DNS label of the host.
func (t Target) BucketName() string {
	u, err := url.Parse(t.URL)
	if err != nil || u.Host == "" {
		return sanitizeName(strings.TrimSuffix(t.URL, "/"))
	}
	if p := strings.Trim(u.Path, "/"); p != "" {
		return sanitizeName(strings.SplitN(p, "/", 2)[0])
	}
	return sanitizeName(strings.SplitN(u.Hostname(), ".", 2)[0])
}

func sanitizeName(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(s)
	if s == "" || s == "." || s == ".." {
		return "bucket"
	}
	return s
}

// Adapter lists and downloads the objects of one bucket.
type Adapter interface {
	// Module returns the module code the adapter was built for.
	Module() string

	// Bucket returns the bucket name used for local paths.
	Bucket() string

	// List returns every object under prefix. On failure it returns the
	// objects collected before the failing page together with the error.
	List(ctx context.Context, prefix string) ([]Object, error)

	// Download streams the object to w.
	Download(ctx context.Context, key string, w io.Writer) error

	// ObjectURL returns the URL the object is fetched from.
	ObjectURL(key string) string
}

// Deps are the collaborators shared by all adapters.
type Deps struct {
	// HTTP is the shared client. Required for HTTP-based modules.
	HTTP *slurphttp.Client

	// MaxPages bounds pagination. Default: DefaultMaxPages
	MaxPages int

	// Credentials holds per-provider secrets.
	Credentials config.Credentials
}

func (d Deps) maxPages() int {
	if d.MaxPages <= 0 {
		return DefaultMaxPages
	}
	return d.MaxPages
}

// escapeKey percent-encodes every segment of key, keeping "/" separators.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
