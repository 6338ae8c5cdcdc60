package cache

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultSeedWorkers is the number of manifest URLs fetched in parallel
	DefaultSeedWorkers = 4

	// DefaultSeedTimeout bounds each manifest fetch
	DefaultSeedTimeout = 15 * time.Second
)

// Fetcher performs network requests.
// *http.Client satisfies it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// SeedReport summarizes a Seed run.
type SeedReport struct {
	// Stored lists the URLs written to the partition.
	Stored []string

	// Failed maps each URL that could not be seeded to its cause.
	Failed map[string]error
}

type seedResult struct {
	url string
	err error
}

// Seed fetches every URL in urls and stores the successful responses in the
// partition. Each URL is independent: one failure never aborts the others.
func (m *Manager) Seed(ctx context.Context, partition string, urls []string, fetcher Fetcher) SeedReport {
	report := SeedReport{Failed: make(map[string]error)}
	if len(urls) == 0 {
		return report
	}

	start := time.Now()
	queue := make(chan string, len(urls))
	results := make(chan seedResult, len(urls))

	for _, u := range urls {
		queue <- u
	}
	close(queue)

	workers := m.seedWorkers
	if workers > len(urls) {
		workers = len(urls)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go m.seedWorker(ctx, partition, fetcher, queue, results, &wg)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		if res.err != nil {
			SeedFailures.Inc()
			m.logger.Warn().Err(res.err).Str("url", res.url).Msg("Failed to seed manifest entry")
			report.Failed[res.url] = res.err
			continue
		}
		report.Stored = append(report.Stored, res.url)
	}

	m.logger.Info().
		Str("partition", partition).
		Int("stored", len(report.Stored)).
		Int("failed", len(report.Failed)).
		Dur("duration", time.Since(start)).
		Msg("Seed complete")

	return report
}

// seedWorker drains the queue, fetching and storing one URL at a time
func (m *Manager) seedWorker(ctx context.Context, partition string, fetcher Fetcher, queue <-chan string, results chan<- seedResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for u := range queue {
		results <- seedResult{url: u, err: m.seedOne(ctx, partition, u, fetcher)}
	}
}

func (m *Manager) seedOne(ctx context.Context, partition, url string, fetcher Fetcher) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, DefaultSeedTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := fetcher.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if !IsOK(resp.StatusCode) {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	// Read the body before the per-URL timeout is released.
	if err := m.Put(ctx, partition, req, resp); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}
