// Package pool executes download jobs across a bounded set of workers.
package pool

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/itchgrab/itchgrab/internal/download"
	"github.com/itchgrab/itchgrab/internal/progress"
)

// Runner handles one game URL. Downloader.Download satisfies this.
type Runner func(ctx context.Context, gameURL string) download.Result

// Run fans jobs out over parallelism workers and returns one result per
// job, in job order. Workers claim jobs through a shared cursor so a slow
// download never stalls the rest of the batch.
func Run(ctx context.Context, jobs []string, parallelism int, run Runner, tracker *progress.Tracker, logger *zap.Logger) []download.Result {
	if parallelism < 1 {
		parallelism = 1
	}
	if parallelism > len(jobs) {
		parallelism = len(jobs)
	}
	results := make([]download.Result, len(jobs))
	var cursor atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < parallelism; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				idx := int(cursor.Add(1)) - 1
				if idx >= len(jobs) {
					return
				}
				if ctx.Err() != nil {
					results[idx] = download.Result{
						URL:    jobs[idx],
						Errors: []string{ctx.Err().Error()},
					}
					continue
				}
				logger.Debug("worker picked up job",
					zap.Int("worker", worker), zap.String("url", jobs[idx]))
				results[idx] = run(ctx, jobs[idx])
				if tracker != nil {
					tracker.JobDone(jobs[idx], results[idx].Success)
				}
			}
		}(i)
	}
	wg.Wait()
	return results
}

// Report writes a human-readable summary of failed jobs and external
// URLs. It returns how many jobs did not fully succeed.
func Report(w io.Writer, results []download.Result) int {
	failed := 0
	for _, r := range results {
		if r.Success && len(r.Errors) == 0 && len(r.ExternalURLs) == 0 {
			continue
		}
		if r.Success {
			fmt.Fprintf(w, "\nNotes for %s:\n", r.URL)
		} else {
			failed++
			fmt.Fprintf(w, "\nDownload failed for %s:\n", r.URL)
		}
		for _, e := range r.Errors {
			fmt.Fprintf(w, "- %s\n", e)
		}
		for _, u := range r.ExternalURLs {
			fmt.Fprintf(w, "- External download URL (download manually!): %s\n", u)
		}
	}
	return failed
}
