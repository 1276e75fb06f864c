// Package batch runs independent indicator requests on a worker pool.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/forest-guardian/ldn-engine/internal/indicator"
	"github.com/forest-guardian/ldn-engine/internal/log"
	"github.com/forest-guardian/ldn-engine/internal/result"
)

const logTag = "[batch] "

type Computer interface {
	Compute(ctx context.Context, req indicator.Request) (*result.Envelope, error)
}

// Item is the outcome of one request, at its position in the input.
type Item struct {
	Index    int               `json:"index"`
	Request  indicator.Request `json:"request"`
	Envelope *result.Envelope  `json:"result,omitempty"`
	Error    string            `json:"error,omitempty"`

	err error
}

func (i Item) Err() error { return i.err }

type options struct {
	workers  int
	failFast bool
	progress io.Writer
}

type Option func(*options)

func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// FailFast cancels the outstanding requests after the first failure and
// makes Run return that failure.
func FailFast() Option {
	return func(o *options) { o.failFast = true }
}

func WithProgressOutput(w io.Writer) Option {
	return func(o *options) { o.progress = w }
}

// Run computes every request and returns one item per request, in input
// order. Without FailFast a failed request only marks its item.
func Run(ctx context.Context, c Computer, reqs []indicator.Request, opts ...Option) ([]Item, error) {
	o := options{workers: 4, progress: io.Discard}
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu          sync.Mutex
		items       = make([]Item, len(reqs))
		firstErr    error
		stop        sync.Once
		progressBar = progressbar.NewOptions(len(reqs),
			progressbar.OptionSetWriter(o.progress),
			progressbar.OptionSetDescription("Computing indicators"),
			progressbar.OptionThrottle(100*time.Millisecond),
		)
	)

	wp := workerpool.New(o.workers)
	for i, req := range reqs {
		wp.Submit(func() {
			item := Item{Index: i, Request: req}
			if err := ctx.Err(); err != nil {
				item.err = err
			} else {
				item.Envelope, item.err = c.Compute(ctx, req)
			}
			if item.err != nil {
				item.Error = item.err.Error()
				log.Warn(logTag+"request failed", zap.Int("index", i), zap.String("indicator", string(req.Indicator)), zap.Error(item.err))
				if o.failFast {
					stop.Do(func() {
						firstErr = fmt.Errorf("request %d (%s): %w", i, req.Indicator, item.err)
						cancel()
					})
				}
			}

			mu.Lock()
			items[i] = item
			progressBar.Add(1)
			mu.Unlock()
		})
	}
	wp.StopWait()
	progressBar.Finish()

	if firstErr != nil {
		return items, firstErr
	}
	return items, nil
}

// LoadRequests reads a JSON array of requests.
func LoadRequests(path string) ([]indicator.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read requests: %w", err)
	}
	var reqs []indicator.Request
	if err := json.Unmarshal(data, &reqs); err != nil {
		return nil, fmt.Errorf("failed to parse requests: %w", err)
	}
	return reqs, nil
}

// Summary counts the succeeded and failed items.
func Summary(items []Item) (ok, failed int) {
	for _, it := range items {
		if it.err != nil || it.Error != "" {
			failed++
			continue
		}
		ok++
	}
	return ok, failed
}
