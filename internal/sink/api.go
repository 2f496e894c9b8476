package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"devicebridge"
	"devicebridge/internal/logger"
)

const (
	apiMaxAttempts  = 3
	apiRetryBackoff = 500 * time.Millisecond
	apiHTTPTimeout  = 10 * time.Second
)

// APISink accumulates readings into batches and POSTs each batch as one
// request. Delivery is best effort: a batch that still fails after bounded
// retries with backoff is dropped and recorded, never blocking the run.
type APISink struct {
	baseURL   string
	authToken string
	batchSize int
	client    *http.Client
	log       *logger.Logger

	buf       []devicebridge.Reading
	requests  int64
	delivered int64
	retries   int64
	dropped   int64
	failures  int64
}

func NewAPISink(baseURL, authToken string, batchSize int, log *logger.Logger) *APISink {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &APISink{
		baseURL:   baseURL,
		authToken: authToken,
		batchSize: batchSize,
		client:    &http.Client{Timeout: apiHTTPTimeout},
		log:       log,
		buf:       make([]devicebridge.Reading, 0, batchSize),
	}
}

func (s *APISink) Name() string { return "api" }

func (s *APISink) Write(ctx context.Context, r devicebridge.Reading) error {
	s.buf = append(s.buf, r)
	if len(s.buf) < s.batchSize {
		return nil
	}
	return s.Flush(ctx)
}

// Flush sends whatever is buffered as one request (single-reading flushes go
// to the single-record endpoint, as the upstream expects).
func (s *APISink) Flush(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}
	batch := s.buf
	s.buf = make([]devicebridge.Reading, 0, s.batchSize)

	if err := s.sendBatch(ctx, batch); err != nil {
		s.dropped += int64(len(batch))
		s.failures++
		return fmt.Errorf("api sink: batch of %d dropped: %w", len(batch), err)
	}
	return nil
}

func (s *APISink) sendBatch(ctx context.Context, batch []devicebridge.Reading) error {
	url := s.baseURL + "/devices/data"
	var body any = batch[0]
	if len(batch) > 1 {
		url = s.baseURL + "/devices/data/batch"
		body = map[string]any{"data": batch}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= apiMaxAttempts; attempt++ {
		if attempt > 1 {
			s.retries++
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt-1) * apiRetryBackoff):
			}
		}
		lastErr = s.post(ctx, url, payload)
		if lastErr == nil {
			s.requests++
			s.delivered += int64(len(batch))
			return nil
		}
		if s.log != nil {
			s.log.Warnw("api sink send failed", "attempt", attempt, "size", len(batch), "err", lastErr)
		}
	}
	return lastErr
}

func (s *APISink) post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("api responded %d", resp.StatusCode)
	}
	return nil
}

func (s *APISink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// Requests reports how many HTTP requests were successfully issued.
func (s *APISink) Requests() int64 { return s.requests }

// Stats exposes the sink's internal tallies to the dispatcher: Delivered
// counts readings actually sent, not merely buffered by Write.
func (s *APISink) Stats() devicebridge.SinkStats {
	return devicebridge.SinkStats{
		Delivered: s.delivered,
		Retries:   s.retries,
		Dropped:   s.dropped,
		Failures:  s.failures,
	}
}
