package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// Bucket is the bucket being downloaded (for display).
	Bucket string

	// TotalSize is the sum of the listed object sizes.
	TotalSize uint64

	// TotalObjects is the number of objects to download.
	TotalObjects int

	// Workers is the number of parallel workers.
	Workers int

	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Reporter tracks the objects of one bucket and periodically prints
// human-readable progress. Its counters are safe for concurrent use.
type Reporter struct {
	opts Options

	mu         sync.Mutex
	completed  atomic.Uint64
	finished   atomic.Int32
	failed     atomic.Int32
	inProgress atomic.Int32
	startTime  time.Time
	lastUpdate time.Time
	lastBytes  uint64
	started    bool
	stopped    bool
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start prints the header and begins periodic updates.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.startTime = time.Now()
	r.lastUpdate = r.startTime

	fmt.Fprintf(r.opts.Output, "[bucketslurp] Downloading from %s\n", r.opts.Bucket)
	fmt.Fprintf(r.opts.Output, "[bucketslurp] Total size: %s | Objects: %d | Workers: %d\n",
		formatBytes(r.opts.TotalSize),
		r.opts.TotalObjects,
		r.opts.Workers,
	)

	go r.updateLoop()
}

// Stop stops periodic updates and prints the final status. It blocks until
// the final status has been written.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped || !r.started {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

// ObjectStarted marks an object as in progress.
func (r *Reporter) ObjectStarted() {
	r.inProgress.Add(1)
}

// ObjectFinished marks an object as done. size is the listed size; it is
// counted whether or not the download succeeded.
func (r *Reporter) ObjectFinished(size uint64, err error) {
	r.completed.Add(size)
	r.finished.Add(1)
	if err != nil {
		r.failed.Add(1)
	}
	r.inProgress.Add(-1)
}

// CompletedBytes returns the listed size of all finished objects.
func (r *Reporter) CompletedBytes() uint64 {
	return r.completed.Load()
}

// Finished returns the number of finished objects, failures included.
func (r *Reporter) Finished() int {
	return int(r.finished.Load())
}

// Failed returns the number of objects whose download failed.
func (r *Reporter) Failed() int {
	return int(r.failed.Load())
}

func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

func (r *Reporter) printProgress() {
	now := time.Now()
	completed := r.completed.Load()
	finished := int(r.finished.Load())
	failed := int(r.failed.Load())
	inProgress := int(r.inProgress.Load())

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(completed-r.lastBytes) / elapsed

	r.lastUpdate = now
	r.lastBytes = completed

	var percent float64
	var eta string
	if r.opts.TotalSize > 0 {
		percent = float64(completed) / float64(r.opts.TotalSize) * 100
		if speed > 0 && completed < r.opts.TotalSize {
			remaining := float64(r.opts.TotalSize - completed)
			eta = formatDuration(time.Duration(remaining / speed * float64(time.Second)))
		} else {
			eta = "calculating..."
		}
	}

	pending := r.opts.TotalObjects - finished - inProgress
	if pending < 0 {
		pending = 0
	}

	fmt.Fprintf(r.opts.Output, "\r[bucketslurp] Progress: %.1f%% | %s / %s | Speed: %s/s | ETA: %s    ",
		percent,
		formatBytes(completed),
		formatBytes(r.opts.TotalSize),
		formatBytes(uint64(speed)),
		eta,
	)
	fmt.Fprintf(r.opts.Output, "\n[bucketslurp] Objects: %d done | %d failed | %d in-progress | %d pending    \033[A",
		finished-failed,
		failed,
		inProgress,
		pending,
	)
}

func (r *Reporter) printFinalStatus() {
	completed := r.completed.Load()
	finished := int(r.finished.Load())
	failed := int(r.failed.Load())
	duration := time.Since(r.startTime)
	avgSpeed := float64(completed) / duration.Seconds()

	fmt.Fprintf(r.opts.Output, "\r[bucketslurp] Progress: %s / %s | Complete!    \n",
		formatBytes(completed),
		formatBytes(r.opts.TotalSize),
	)
	fmt.Fprintf(r.opts.Output, "[bucketslurp] Objects: %d done | %d failed    \n",
		finished-failed,
		failed,
	)
	fmt.Fprintf(r.opts.Output, "[bucketslurp] Total time: %s | Average speed: %s/s\n",
		formatDuration(duration),
		formatBytes(uint64(avgSpeed)),
	)
}

func formatBytes(b uint64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes formats a byte count as a human-readable string.
func FormatBytes(b uint64) string {
	return formatBytes(b)
}
