// Package pipeline implements the worker pool (C5): it invokes the
// crawler bound to each work item, classifies failures for retry, and
// reports outcomes to the queue (C1), registry (C2), and persistence
// adapter (C6). Per spec.md Design Notes §9, workers are goroutines
// draining a single shared channel — the other sanctioned actor
// shape, used here instead of a mutex because the pipeline's job is
// inherently about concurrent I/O-bound work, not serialized state.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/caiatech/crawlcore/internal/crawler"
	"github.com/caiatech/crawlcore/internal/events"
	"github.com/caiatech/crawlcore/internal/persistence"
	"github.com/caiatech/crawlcore/internal/queue"
	"github.com/caiatech/crawlcore/internal/registry"
	"github.com/caiatech/crawlcore/pkg/logging"
)

// JobBinding optionally attaches a persistence Job to a site's run, so
// per-item outcomes roll up into pages_crawled/errors_count (spec.md
// §4.6, §7 "when a Job is active"). Leave JobID empty to skip.
type JobBinding struct {
	JobID string
	Store persistence.Store
}

// Config configures a Pipeline.
type Config struct {
	WorkerCount int
	Crawlers    *crawler.Registry
	Queue       *queue.Queue
	Registry    *registry.Registry
	Bus         *events.Bus // optional; nil disables lifecycle events
	Job         *JobBinding // optional; nil disables job progress rollup
}

// Pipeline is the worker pool (C5).
type Pipeline struct {
	cfg Config
	log zerolog.Logger
}

// New builds a Pipeline from cfg. WorkerCount must be > 0.
func New(cfg Config) *Pipeline {
	return &Pipeline{cfg: cfg, log: logging.GetPipelineLogger("crawl", "worker_pool")}
}

// Run starts cfg.WorkerCount workers draining items until the channel
// is closed (the producer closes it on shutdown) or ctx is cancelled.
// Run blocks until every worker has exited.
func (p *Pipeline) Run(ctx context.Context, items <-chan queue.Item) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.worker(ctx, workerID, items)
		}(i)
	}
	wg.Wait()
}

func (p *Pipeline) worker(ctx context.Context, workerID int, items <-chan queue.Item) {
	log := p.log.With().Int("worker_id", workerID).Logger()
	for {
		select {
		case item, ok := <-items:
			if !ok {
				return
			}
			p.process(ctx, log, item)
		case <-ctx.Done():
			return
		}
	}
}

// process implements the per-item state machine from spec.md §4.5.
func (p *Pipeline) process(ctx context.Context, log zerolog.Logger, item queue.Item) {
	reason, ok := p.invokeCrawler(ctx, item)
	if ok {
		p.cfg.Queue.MarkProcessed(item.URL)
		p.cfg.Registry.MarkCrawled(item.URL, nil)
		p.publish(events.TypeItemProcessed, item, "")
		p.bumpJobProgress(ctx, 1, 0)
		log.Info().Str("url", item.URL).Msg("crawl succeeded")
		return
	}

	shouldRetry := reason.ShouldRetry()
	retried := p.cfg.Queue.MarkFailed(item.URL, shouldRetry)
	formatted := reason.Formatted()
	if !retried {
		p.cfg.Registry.MarkFailed(item.URL, formatted)
	}
	p.publish(events.TypeItemFailed, item, formatted)
	// AddJobError both increments errors_count and appends the message.
	if err := p.addJobError(ctx, formatted); err != nil {
		log.Warn().Err(err).Msg("failed to record job error")
	}

	log.Warn().Str("url", item.URL).Str("reason", formatted).Bool("retried", retried).Msg("crawl failed")
}

// invokeCrawler resolves the crawler for item and invokes it,
// recovering any panic (spec.md §4.5 step 2: "catching any abnormal
// termination ... and converting to {error, {kind, value}}"). Returns
// (zero Reason, true) on success, or (reason, false) on failure.
func (p *Pipeline) invokeCrawler(ctx context.Context, item queue.Item) (reason crawler.Reason, ok bool) {
	impl, err := p.cfg.Crawlers.Get(item.CrawlerID)
	if err != nil {
		return crawler.AsReason(err), false
	}

	defer func() {
		if r := recover(); r != nil {
			ok = false
			reason = crawler.Reason{Kind: crawler.KindOther, Msg: fmt.Sprintf("panic: %v", r)}
		}
	}()

	err = impl.Crawl(ctx, item.URL)
	if err == nil {
		return crawler.Reason{}, true
	}
	return crawler.AsReason(err), false
}

func (p *Pipeline) publish(eventType events.Type, item queue.Item, reason string) {
	if p.cfg.Bus == nil {
		return
	}
	evt := events.New(eventType, item.URL, item.CrawlerID)
	evt.Reason = reason
	_ = p.cfg.Bus.Publish(evt)
}

func (p *Pipeline) bumpJobProgress(ctx context.Context, crawled, errorsCount int) {
	if p.cfg.Job == nil || p.cfg.Job.JobID == "" {
		return
	}
	delta := persistence.JobProgressDelta{}
	if crawled > 0 {
		delta.PagesCrawled = &crawled
	}
	if errorsCount > 0 {
		delta.ErrorsCount = &errorsCount
	}
	if delta.PagesCrawled == nil && delta.ErrorsCount == nil {
		return
	}
	if err := p.cfg.Job.Store.UpdateJobProgress(ctx, p.cfg.Job.JobID, delta); err != nil {
		p.log.Warn().Err(err).Msg("failed to update job progress")
	}
}

func (p *Pipeline) addJobError(ctx context.Context, msg string) error {
	if p.cfg.Job == nil || p.cfg.Job.JobID == "" {
		return nil
	}
	return p.cfg.Job.Store.AddJobError(ctx, p.cfg.Job.JobID, msg)
}
