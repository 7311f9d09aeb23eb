// Package downloader enumerates buckets and downloads their objects.
//
// For every target, in order, the downloader:
//   - checks the bucket URL against the module's keywords
//   - builds the provider adapter and lists the bucket once
//   - logs statistics and writes the manifest (see package manifest)
//   - downloads every object with a fixed pool of workers
//
// A failure in one bucket is logged and recorded in its Result; the next
// bucket is still processed.
//
// # Usage
//
//	out, err := downloader.OpenOutput(ctx, "./downloads")
//	results := downloader.Run(ctx, targets, downloader.Options{
//	    Workers: 3,
//	    Output:  out,
//	    Deps:    provider.Deps{HTTP: client},
//	})
//
// # Worker Pool
//
// Workers receive objects from a channel and stream each one into the output
// bucket at <bucket name>/<key>. Download errors are logged and counted but
// never cancel sibling downloads. An aborted write leaves no partial object
// behind.
//
// # Graceful Shutdown
//
// When ctx is cancelled:
//   - no further objects are dispatched
//   - in-flight requests are aborted
//   - no further buckets are started
package downloader
