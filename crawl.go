package calsearch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bedework/go-calsearch/calentity"
	"github.com/bedework/go-calsearch/internal/log"
)

// EntitySource feeds a crawl. Entities must return a fresh channel per call
// and close it when the source is exhausted.
type EntitySource interface {
	Entities(ctx context.Context) (<-chan calentity.Entity, error)
}

// CrawlStats summarizes one crawl run.
type CrawlStats struct {
	Indexed   int
	Abandoned int
}

// Crawler re-indexes entities in bulk through a fixed-size worker pool.
// Backpressure is wait-for-an-idle-worker: the source blocks on the feed
// channel until a worker picks the item up, nothing queues unbounded. A
// failing item is retried with backoff up to the attempt cap and then
// abandoned with a logged failure.
type Crawler struct {
	client *Client
	cfg    CrawlConfig
}

// NewCrawler returns a crawler writing through client.
func NewCrawler(client *Client, cfg CrawlConfig) *Crawler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Crawler{client: client, cfg: cfg}
}

// Run drains the source once and reports what happened.
func (cr *Crawler) Run(ctx context.Context, source EntitySource) (CrawlStats, error) {
	feed, err := source.Entities(ctx)
	if err != nil {
		return CrawlStats{}, fmt.Errorf("calsearch: starting crawl: %w", err)
	}

	var (
		mu    sync.Mutex
		stats CrawlStats
		wg    sync.WaitGroup
	)
	for i := 0; i < cr.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entity := range feed {
				if cr.indexWithRetry(ctx, entity) {
					mu.Lock()
					stats.Indexed++
					mu.Unlock()
				} else {
					mu.Lock()
					stats.Abandoned++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	log.Info("calsearch: crawl finished",
		"indexed", stats.Indexed, "abandoned", stats.Abandoned)
	return stats, nil
}

func (cr *Crawler) indexWithRetry(ctx context.Context, entity calentity.Entity) bool {
	delay := time.Duration(cr.cfg.RetryDelayMillis) * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= cr.cfg.MaxAttempts; attempt++ {
		lastErr = cr.client.Index(ctx, entity)
		if lastErr == nil {
			return true
		}
		if attempt < cr.cfg.MaxAttempts && delay > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	log.Error("calsearch: abandoning entity after retries", lastErr,
		"href", entity.EntityHref(), "attempts", cr.cfg.MaxAttempts)
	return false
}

// Schedule runs crawls on the configured cron expression until the
// returned stop function is called. Overlapping runs are skipped.
func (cr *Crawler) Schedule(source EntitySource) (stop func(), err error) {
	if cr.cfg.Schedule == "" {
		return nil, fmt.Errorf("calsearch: no crawl schedule configured")
	}

	var running sync.Mutex
	c := cron.New()
	_, err = c.AddFunc(cr.cfg.Schedule, func() {
		if !running.TryLock() {
			log.Warn("calsearch: skipping scheduled crawl, previous run still active")
			return
		}
		defer running.Unlock()
		if _, err := cr.Run(context.Background(), source); err != nil {
			log.Error("calsearch: scheduled crawl failed", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("calsearch: bad crawl schedule %q: %w", cr.cfg.Schedule, err)
	}
	c.Start()
	return func() { c.Stop() }, nil
}
