package sink

import (
	"context"

	"devicebridge"
)

// Sink is the delivery contract shared by all outputs. Write must be safe to
// call repeatedly with the same reading; producers do not deduplicate.
//
// A sink's mutable state (file handles, batch buffers, connections) is owned
// by the single dispatcher worker that drives it, so implementations do not
// need internal locking unless they say otherwise.
type Sink interface {
	Name() string
	// Write delivers one reading. Batching sinks may buffer and return nil.
	Write(ctx context.Context, r devicebridge.Reading) error
	// Flush pushes out anything buffered. Called on drain; buffered data must
	// not be silently lost on graceful shutdown.
	Flush(ctx context.Context) error
	Close() error
}

// StatsReporter is implemented by sinks that buffer internally and so keep
// their own tallies (API and database sinks). Their Delivered counts only
// readings actually committed or sent and supersedes the worker's per-Write
// count; Retries, Dropped and Failures are merged into the run summary. The
// dispatcher reads Stats only after the sink's worker has exited.
type StatsReporter interface {
	Stats() devicebridge.SinkStats
}
