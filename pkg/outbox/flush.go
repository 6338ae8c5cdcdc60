package outbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Sternrassler/movietracker-sw/pkg/fetch"
)

// FlushReport summarizes one flush of a tag.
type FlushReport struct {
	Tag      string   `json:"tag"`
	Sent     []string `json:"sent"`
	Rejected []string `json:"rejected"`
	// Remaining is the number of items still queued after the flush.
	Remaining int `json:"remaining"`
}

// Flush replays the queued items of tag in order through network.
//
//   - 2xx: the item is sent and removed
//   - 4xx: the item is rejected by the server and removed
//   - network failures, 429 and 5xx are retried per retry; if they persist
//     the item stays queued with its attempt count raised, and the flush
//     stops with the cause
//
// Flushes of the same tag run one at a time. Each item is claimed before it
// is sent; an item claimed by another flusher stops this flush without error.
func (o *Outbox) Flush(ctx context.Context, tag string, network fetch.Fetcher, retry fetch.RetryConfig) (FlushReport, error) {
	report := FlushReport{Tag: tag}

	lock := o.tagLock(tag)
	lock.Lock()
	defer lock.Unlock()

	items, err := o.Pending(ctx, tag)
	if err != nil {
		return report, err
	}
	if len(items) == 0 {
		return report, nil
	}

	o.logger.Info().Str("tag", tag).Int("pending", len(items)).Msg("Replaying queued writes")

	for i, item := range items {
		claimed, err := o.claim(ctx, item.ID)
		if err != nil {
			report.Remaining = len(items) - i
			return report, err
		}
		if !claimed {
			report.Remaining = len(items) - i
			o.logger.Info().
				Str("tag", tag).
				Str("id", item.ID).
				Msg("Item is being replayed by another flush, stopping")
			return report, nil
		}

		status, err := o.replay(ctx, item, network, retry)
		if err != nil {
			Replayed.WithLabelValues(tag, "deferred").Inc()
			if recErr := o.recordFailure(ctx, item.ID, err); recErr != nil {
				err = errors.Join(err, recErr)
			}
			report.Remaining = len(items) - i
			o.logger.Warn().
				Err(err).
				Str("tag", tag).
				Str("id", item.ID).
				Str("error_class", string(fetch.ClassOf(err))).
				Int("remaining", report.Remaining).
				Msg("Replay deferred")
			return report, fmt.Errorf("replay %s: %w", item.ID, err)
		}

		if err := o.Delete(ctx, item.ID); err != nil {
			report.Remaining = len(items) - i
			return report, err
		}

		if fetch.ClassifyStatus(status) == fetch.ErrorClassClient {
			Replayed.WithLabelValues(tag, "rejected").Inc()
			report.Rejected = append(report.Rejected, item.ID)
			o.logger.Warn().
				Str("tag", tag).
				Str("id", item.ID).
				Int("status_code", status).
				Msg("Queued write rejected by server")
			continue
		}

		Replayed.WithLabelValues(tag, "sent").Inc()
		report.Sent = append(report.Sent, item.ID)
	}

	o.logger.Info().
		Str("tag", tag).
		Int("sent", len(report.Sent)).
		Int("rejected", len(report.Rejected)).
		Msg("Queued writes replayed")
	return report, nil
}

// replay sends one item and returns the final status code.
func (o *Outbox) replay(ctx context.Context, item Item, network fetch.Fetcher, retry fetch.RetryConfig) (int, error) {
	var status int

	err := fetch.Retry(ctx, retry, func() error {
		req, err := item.request(ctx)
		if err != nil {
			return &fetch.FetchError{URL: item.URL, Class: fetch.ErrorClassClient, Message: "build request", Err: err}
		}

		resp, err := network.Do(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		class := fetch.ClassifyStatus(resp.StatusCode)
		if class == fetch.ErrorClassServer || class == fetch.ErrorClassRateLimit {
			return &fetch.FetchError{
				URL:        item.URL,
				StatusCode: resp.StatusCode,
				Class:      class,
				Message:    resp.Status,
			}
		}
		status = resp.StatusCode
		return nil
	})
	return status, err
}

func (item Item) request(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if len(item.Body) > 0 {
		body = bytes.NewReader(item.Body)
	}
	req, err := http.NewRequestWithContext(ctx, item.Method, item.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range item.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}
