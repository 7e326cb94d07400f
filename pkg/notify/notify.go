package notify

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ctt-hpc/ctt/pkg/log"
	"github.com/ctt-hpc/ctt/pkg/metrics"
	"github.com/rs/zerolog"
)

// Notifier accepts changelog messages. Implementations must not block.
type Notifier interface {
	Notify(msg string)
}

// Sink delivers a message to an outbound channel such as chat
type Sink interface {
	Send(ctx context.Context, msg string) error
}

// Discard is a Notifier that drops every message
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(string) {}

// Batch collects messages for one reconciliation pass or API request and
// delivers them to a sink as a single combined message on Flush
type Batch struct {
	mu     sync.Mutex
	msgs   []string
	sink   Sink
	logger zerolog.Logger
}

// NewBatch creates an empty batch that flushes to sink
func NewBatch(sink Sink) *Batch {
	return &Batch{
		sink:   sink,
		logger: log.WithComponent("notify"),
	}
}

// Notify queues msg for the next Flush
func (b *Batch) Notify(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
}

// Len returns the number of queued messages
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}

// Flush sends all queued messages and empties the batch. Delivery failures
// are logged and counted, never returned.
func (b *Batch) Flush(ctx context.Context) {
	b.mu.Lock()
	msgs := b.msgs
	b.msgs = nil
	b.mu.Unlock()

	if len(msgs) == 0 {
		return
	}

	err := b.sink.Send(ctx, strings.Join(msgs, "\n"))
	metrics.NotificationsTotal.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		b.logger.Warn().Err(err).Int("messages", len(msgs)).Msg("failed to deliver notification")
	}
}

// LogSink writes messages to the structured log
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink that logs each message at info level
func NewLogSink() *LogSink {
	return &LogSink{logger: log.WithComponent("changelog")}
}

// Send logs each line of msg
func (s *LogSink) Send(ctx context.Context, msg string) error {
	for _, line := range strings.Split(msg, "\n") {
		s.logger.Info().Msg(line)
	}
	return nil
}

// Multi fans a message out to every sink. A failing sink does not prevent
// delivery to the others.
type Multi []Sink

// Send delivers msg to all sinks and joins their errors
func (m Multi) Send(ctx context.Context, msg string) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder is a Notifier and Sink that keeps every message it receives
type Recorder struct {
	mu   sync.Mutex
	msgs []string
	Err  error // Returned from Send when set
}

// Notify records msg
func (r *Recorder) Notify(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

// Send records msg and returns r.Err
func (r *Recorder) Send(ctx context.Context, msg string) error {
	r.Notify(msg)
	return r.Err
}

// Messages returns a copy of everything recorded so far
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// Reset discards recorded messages
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}
