// Package progress provides progress reporting for bucket downloads.
//
// A [Reporter] is shared by all download workers of one bucket. Workers call
// ObjectStarted and ObjectFinished; a background loop prints percentage,
// speed and ETA to stdout.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    Bucket:       "mybucket",
//	    TotalSize:    stats.TotalSize,
//	    TotalObjects: stats.Count,
//	    Workers:      3,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	reporter.ObjectStarted()
//	err := download(obj)
//	reporter.ObjectFinished(obj.Size, err)
//
// Progress counts the listed size of every finished object, including
// failed ones, so the bar always reaches the listed total.
//
// # Output Format
//
//	[bucketslurp] Downloading from mybucket
//	[bucketslurp] Total size: 1.20 GB | Objects: 5120 | Workers: 3
//	[bucketslurp] Progress: 45.2% | 555.00 MB / 1.20 GB | Speed: 12.00 MB/s | ETA: 55s
//	[bucketslurp] Objects: 2301 done | 12 failed | 3 in-progress | 2804 pending
package progress
