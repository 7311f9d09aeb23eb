package manifest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ligustah/bucketslurp/internal/provider"
)

// FileName is the name of the manifest written for every bucket.
const FileName = "downloads.log"

const bytesPerMB = 1024 * 1024

// Stats summarizes a bucket listing.
type Stats struct {
	// TotalSize is the sum of all listed sizes in bytes.
	TotalSize uint64

	// Count is the number of listed objects, duplicates included.
	Count int

	// Extensions holds the distinct key extensions, sorted. Keys without an
	// extension contribute "".
	Extensions []string
}

// Compute derives Stats from a listing.
func Compute(objects []provider.Object) Stats {
	var s Stats
	seen := make(map[string]struct{})
	for _, o := range objects {
		s.TotalSize += o.Size
		s.Count++
		ext := filepath.Ext(o.Key)
		if _, ok := seen[ext]; !ok {
			seen[ext] = struct{}{}
			s.Extensions = append(s.Extensions, ext)
		}
	}
	sort.Strings(s.Extensions)
	return s
}

// SizeMB formats TotalSize in mebibytes with two decimals.
func (s Stats) SizeMB() string {
	return fmt.Sprintf("%.2f", float64(s.TotalSize)/bytesPerMB)
}

// Formats returns the extensions as a comma separated list, or
// "No extensions" when none of the keys has one.
func (s Stats) Formats() string {
	var exts []string
	for _, e := range s.Extensions {
		if e != "" {
			exts = append(exts, e)
		}
	}
	if len(exts) == 0 {
		return "No extensions"
	}
	return strings.Join(exts, ", ")
}

// Path returns <logDir>/<module>/<bucket>/downloads.log.
func Path(logDir, module, bucket string) string {
	return filepath.Join(logDir, module, bucket, FileName)
}

// Write writes the manifest for one bucket to path, creating parent
// directories as needed. An existing manifest is replaced.
func Write(path string, stats Stats, urls []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "Total files: %d\n", stats.Count)
	fmt.Fprintf(w, "Total size: %s MB\n", stats.SizeMB())
	fmt.Fprint(w, "\nFile URLs:\n")
	for _, u := range urls {
		fmt.Fprintln(w, u)
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	return nil
}
