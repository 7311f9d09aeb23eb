package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"
	"golang.org/x/sync/errgroup"

	// Output URL schemes.
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/bucketslurp/internal/manifest"
	"github.com/ligustah/bucketslurp/internal/progress"
	"github.com/ligustah/bucketslurp/internal/provider"
)

// DefaultWorkers is the number of parallel downloads per bucket.
const DefaultWorkers = 3

// ErrNoObjects is recorded in Result.Err when a listing found nothing.
var ErrNoObjects = errors.New("downloader: no files found")

// Options configures a run.
type Options struct {
	// Workers is the number of parallel download workers.
	// Default: DefaultWorkers
	Workers int

	// Output receives the downloaded objects under <bucket name>/<key>.
	// Required unless DryRun is set.
	Output *blob.Bucket

	// LogDir is the root of the per-bucket manifests.
	// Default: "log"
	LogDir string

	// Prefix restricts listings to keys with this prefix.
	Prefix string

	// DryRun lists buckets and writes manifests without downloading.
	DryRun bool

	// Registry resolves module codes. Default: provider.DefaultRegistry()
	Registry *provider.Registry

	// Deps are passed to every adapter.
	Deps provider.Deps

	// ProgressOutput is where progress is printed.
	// Default: os.Stdout
	ProgressOutput io.Writer

	// ProgressInterval is how often progress is refreshed.
	// Default: 500ms
	ProgressInterval time.Duration
}

// Result is the outcome of one bucket.
type Result struct {
	Target provider.Target

	// Bucket is the local bucket name. Empty when no adapter was built.
	Bucket string

	Stats manifest.Stats

	// Listed is the number of listed objects.
	Listed int

	// Downloaded and Failed count finished download tasks. Skipped
	// counts directory markers, which are not fetched.
	Downloaded int
	Skipped    int
	Failed     int

	// Err is the reason the bucket was skipped or cut short: a
	// configuration error, a listing error (possibly with partial results),
	// ErrNoObjects, or the context error on cancellation.
	Err error
}

// task is one object to download.
type task struct {
	obj  provider.Object
	dest string
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.LogDir == "" {
		o.LogDir = "log"
	}
	if o.Registry == nil {
		o.Registry = provider.DefaultRegistry()
	}
}

// Run processes targets one after another and returns one Result per
// processed target. Errors in one bucket never stop the others; a
// cancelled context stops the run after the current bucket.
func Run(ctx context.Context, targets []provider.Target, opts Options) []Result {
	opts.applyDefaults()

	results := make([]Result, 0, len(targets))
	for _, t := range targets {
		if ctx.Err() != nil {
			break
		}
		results = append(results, runBucket(ctx, t, opts))
	}
	return results
}

// RunBucket processes a single target.
func RunBucket(ctx context.Context, t provider.Target, opts Options) Result {
	opts.applyDefaults()
	return runBucket(ctx, t, opts)
}

func runBucket(ctx context.Context, t provider.Target, opts Options) Result {
	log := zerolog.Ctx(ctx).With().Str("url", t.URL).Str("module", t.Module).Logger()
	ctx = log.WithContext(ctx)
	res := Result{Target: t}

	if err := opts.Registry.ValidateTarget(t); err != nil {
		log.Error().Err(err).Msg("skipping bucket")
		res.Err = err
		return res
	}

	adapter, err := opts.Registry.New(ctx, t, opts.Deps)
	if err != nil {
		log.Error().Err(err).Msg("skipping bucket")
		res.Err = err
		return res
	}
	res.Bucket = adapter.Bucket()

	objects, err := adapter.List(ctx, opts.Prefix)
	res.Listed = len(objects)
	if err != nil {
		res.Err = err
		if len(objects) == 0 {
			log.Error().Err(err).Msg("listing failed, skipping bucket")
			return res
		}
		log.Warn().Err(err).Int("objects", len(objects)).Msg("listing incomplete, continuing with partial results")
	}
	if len(objects) == 0 {
		log.Warn().Msg("no files found in bucket")
		res.Err = ErrNoObjects
		return res
	}

	res.Stats = manifest.Compute(objects)
	log.Info().
		Str("bucket", res.Bucket).
		Int("total_files", res.Stats.Count).
		Str("total_size_mb", res.Stats.SizeMB()).
		Str("file_formats", res.Stats.Formats()).
		Msg("bucket listed")

	urls := make([]string, len(objects))
	for i, o := range objects {
		urls[i] = adapter.ObjectURL(o.Key)
	}
	logPath := manifest.Path(opts.LogDir, t.Module, res.Bucket)
	if err := manifest.Write(logPath, res.Stats, urls); err != nil {
		log.Error().Err(err).Str("path", logPath).Msg("failed to write manifest")
	} else {
		log.Info().Str("path", logPath).Msg("download statistics written")
	}

	if opts.DryRun {
		return res
	}
	if opts.Output == nil {
		res.Err = errors.New("downloader: no output bucket configured")
		log.Error().Err(res.Err).Msg("skipping downloads")
		return res
	}

	res.Downloaded, res.Skipped, res.Failed = download(ctx, adapter, objects, res, opts)
	if ctx.Err() != nil && res.Err == nil {
		res.Err = ctx.Err()
	}
	return res
}

// download runs the worker pool over objects.
func download(ctx context.Context, adapter provider.Adapter, objects []provider.Object, res Result, opts Options) (downloaded, skipped, failed int) {
	reporter := progress.NewReporter(progress.Options{
		Bucket:         res.Bucket,
		TotalSize:      res.Stats.TotalSize,
		TotalObjects:   len(objects),
		Workers:        opts.Workers,
		Output:         opts.ProgressOutput,
		UpdateInterval: opts.ProgressInterval,
	})
	reporter.Start()
	defer reporter.Stop()

	jobs := make(chan task, opts.Workers)
	var markers atomic.Int32

	var g errgroup.Group
	for i := 0; i < opts.Workers; i++ {
		g.Go(func() error {
			for job := range jobs {
				reporter.ObjectStarted()
				if isDirMarker(job.obj) {
					zerolog.Ctx(ctx).Debug().Str("key", job.obj.Key).Msg("skipping directory marker")
					markers.Add(1)
					reporter.ObjectFinished(job.obj.Size, nil)
					continue
				}
				err := downloadObject(ctx, adapter, opts.Output, job)
				reporter.ObjectFinished(job.obj.Size, err)
			}
			return nil
		})
	}

	// Feed jobs until done or cancelled.
	func() {
		defer close(jobs)
		for _, o := range objects {
			select {
			case jobs <- task{obj: o, dest: destKey(res.Bucket, o.Key)}:
			case <-ctx.Done():
				return
			}
		}
	}()

	_ = g.Wait()

	failed = reporter.Failed()
	skipped = int(markers.Load())
	return reporter.Finished() - failed - skipped, skipped, failed
}

// isDirMarker reports whether obj is a zero-byte "folder" placeholder.
func isDirMarker(obj provider.Object) bool {
	return strings.HasSuffix(obj.Key, "/") && obj.Size == 0
}

// downloadObject streams one object into the output bucket. The write is
// aborted when the download fails, so no partial object is committed.
func downloadObject(ctx context.Context, adapter provider.Adapter, out *blob.Bucket, job task) error {
	log := zerolog.Ctx(ctx)

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := out.NewWriter(wctx, job.dest, nil)
	if err != nil {
		log.Error().
			Str("key", job.obj.Key).
			Str("code", gcerrors.Code(err).String()).
			Err(err).
			Msg("failed to open output")
		return fmt.Errorf("open output %s: %w", job.dest, err)
	}

	if err := adapter.Download(wctx, job.obj.Key, w); err != nil {
		cancel()
		_ = w.Close()
		log.Error().
			Str("key", job.obj.Key).
			Str("url", adapter.ObjectURL(job.obj.Key)).
			Err(err).
			Msg("download failed")
		return err
	}

	if err := w.Close(); err != nil {
		log.Error().
			Str("key", job.obj.Key).
			Str("code", gcerrors.Code(err).String()).
			Err(err).
			Msg("failed to write output")
		return fmt.Errorf("write output %s: %w", job.dest, err)
	}

	log.Debug().Str("key", job.obj.Key).Uint64("size", job.obj.Size).Msg("downloaded")
	return nil
}

// destKey is the output key for an object: <bucket>/<key> with leading
// slashes removed from key.
func destKey(bucket, key string) string {
	return bucket + "/" + strings.TrimLeft(key, "/")
}

// OpenOutput opens the download destination. A location containing "://"
// is opened as a gocloud blob URL (file://, mem://, s3://, gs://); anything else
// is a local directory, created if missing.
func OpenOutput(ctx context.Context, location string) (*blob.Bucket, error) {
	if strings.Contains(location, "://") {
		b, err := blob.OpenBucket(ctx, location)
		if err != nil {
			return nil, fmt.Errorf("open output %s: %w", location, err)
		}
		return b, nil
	}

	b, err := fileblob.OpenBucket(location, &fileblob.Options{
		CreateDir: true,
		NoTempDir: true,
		Metadata:  fileblob.MetadataDontWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("open output dir %s: %w", location, err)
	}
	return b, nil
}
