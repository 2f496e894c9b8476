package sink

import (
	"context"

	"devicebridge"
	"devicebridge/internal/repository"
)

// DatabaseSink buffers readings and commits them in transactions of
// batchSize through the readings repository. Flush commits the remainder so
// a graceful drain never loses an uncommitted batch; a batch the drain flush
// still cannot commit is dropped at Close and counted, never silent.
type DatabaseSink struct {
	readings  repository.ReadingRepo
	batchSize int
	buf       []devicebridge.Reading
	delivered int64
	dropped   int64
}

func NewDatabaseSink(readings repository.ReadingRepo, batchSize int) *DatabaseSink {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &DatabaseSink{
		readings:  readings,
		batchSize: batchSize,
		buf:       make([]devicebridge.Reading, 0, batchSize),
	}
}

func (s *DatabaseSink) Name() string { return "database" }

func (s *DatabaseSink) Write(ctx context.Context, r devicebridge.Reading) error {
	s.buf = append(s.buf, r)
	if len(s.buf) < s.batchSize {
		return nil
	}
	return s.Flush(ctx)
}

func (s *DatabaseSink) Flush(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}
	if err := s.readings.InsertBatch(ctx, s.buf); err != nil {
		// Keep the buffer; the worker may retry the next Write/Flush.
		return err
	}
	s.delivered += int64(len(s.buf))
	s.buf = s.buf[:0]
	return nil
}

// Close gives up on anything the final flush could not commit and counts it
// as dropped so the run summary reports the loss.
func (s *DatabaseSink) Close() error {
	s.dropped += int64(len(s.buf))
	s.buf = s.buf[:0]
	return nil
}

// Buffered reports how many readings await commit, for drain accounting.
func (s *DatabaseSink) Buffered() int { return len(s.buf) }

// Stats exposes the sink's own tallies: Delivered counts readings actually
// committed, not merely buffered by Write.
func (s *DatabaseSink) Stats() devicebridge.SinkStats {
	return devicebridge.SinkStats{
		Delivered: s.delivered,
		Dropped:   s.dropped,
	}
}
