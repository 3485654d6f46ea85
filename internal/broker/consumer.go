// Package broker bridges a Kafka consumer-group subscription to the
// fan-out, with manual offset management for at-least-once delivery.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/flowmetrics/activity-aggregator/internal/deadletter"
	"github.com/flowmetrics/activity-aggregator/internal/domain"
	"github.com/flowmetrics/activity-aggregator/internal/fanout"
	"github.com/flowmetrics/activity-aggregator/internal/metrics"
)

// CommitMode controls when a fetched record's offset is committed relative
// to the aggregator's flush cycle.
type CommitMode int

const (
	// CommitImmediate commits right after Publish returns. Simplest, but a
	// crash between publish and the next flush loses the counter while the
	// offset is already committed.
	CommitImmediate CommitMode = iota
	// CommitDeferred buffers fetched records per partition and only commits
	// once a flush that started strictly after the record's increment was
	// applied has completed, closing that loss window at the cost of more
	// at-least-once redelivery on restart. Because flushes serialize on the
	// aggregator's flush mutex, that takes the watermark advancing by two
	// past the value observed right after publish, not one: the very next
	// flush may already have taken its snapshot before the increment
	// landed.
	CommitDeferred
)

const backoffOnFetchError = 2 * time.Second

// Watermarker is the subset of the aggregator's surface the deferred commit
// strategy needs: a monotonically increasing count of completed flushes.
type Watermarker interface {
	Watermark() uint64
}

// Config configures the reader and commit strategy.
type Config struct {
	Brokers         []string
	Topic           string
	GroupID         string
	StartOffset     int64 // kafka.FirstOffset or kafka.LastOffset
	SessionTimeout  time.Duration
	MaxPollInterval time.Duration
	CommitMode      CommitMode
}

// record is the camelCase wire shape of one inbound message value.
type record struct {
	UserID    int64     `json:"userId"`
	EventType string    `json:"eventType"`
	Timestamp time.Time `json:"timestamp"`
	Data      struct {
		ButtonID *string `json:"buttonId"`
	} `json:"data"`
}

// pending tracks one fetched-but-not-yet-committed message under deferred
// commit mode, alongside the aggregator watermark observed right after it
// was published. ready is set for messages with no flush dependency at all
// (a malformed record that was dead-lettered rather than incremented into
// the cache); they still queue behind earlier pending messages instead of
// committing out of turn, since Kafka commits a high-water mark and
// committing a later offset implicitly commits every earlier one with it.
type pending struct {
	msg       kafka.Message
	watermark uint64
	ready     bool
}

// deferredCommitter buffers fetched messages per partition until the
// aggregator's watermark proves the increment they carried was durably
// flushed. Kept separate from Consumer so the buffering/release logic is
// testable without a live kafka.Reader.
type deferredCommitter struct {
	mu          sync.Mutex
	byPartition map[int][]pending
}

func newDeferredCommitter() *deferredCommitter {
	return &deferredCommitter{byPartition: make(map[int][]pending)}
}

func (d *deferredCommitter) add(msg kafka.Message, watermark uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byPartition[msg.Partition] = append(d.byPartition[msg.Partition], pending{msg: msg, watermark: watermark})
}

// addReady buffers a message that carries no flush dependency (it was never
// published, so it never incremented the cache) but still must queue behind
// earlier pending messages in its partition rather than commit ahead of
// them.
func (d *deferredCommitter) addReady(msg kafka.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byPartition[msg.Partition] = append(d.byPartition[msg.Partition], pending{msg: msg, ready: true})
}

// releasable returns, per partition, every buffered message safe to commit,
// in fetch order, and drops them from the buffer. A message is safe once
// its recorded watermark plus one is strictly below current: the flush
// immediately after the recorded watermark may have already taken its
// snapshot before this message's increment landed, so only the flush after
// that one is guaranteed to have started after the increment existed.
// Ready messages (no flush dependency) are always safe. Release stops at
// the first message that isn't yet safe, since Kafka's commit is a
// high-water mark and releasing out of order would silently commit past an
// earlier message still waiting on its flush.
func (d *deferredCommitter) releasable(current uint64) []kafka.Message {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []kafka.Message
	for partition, items := range d.byPartition {
		i := 0
		for ; i < len(items); i++ {
			if !items[i].ready && items[i].watermark+1 >= current {
				break
			}
			out = append(out, items[i].msg)
		}
		d.byPartition[partition] = items[i:]
	}
	return out
}

// Consumer owns the reader goroutine and the poll loop described by the
// consumer-loop contract: fetch, deserialize, validate, publish, commit.
type Consumer struct {
	reader *kafka.Reader
	bus    *fanout.Bus
	dlq    deadletter.Sink
	wm     Watermarker
	mode   CommitMode
	log    zerolog.Logger

	doneCh   chan struct{}
	deferred *deferredCommitter
}

// New constructs a Consumer. cfg.Brokers/Topic/GroupID must be non-empty.
func New(cfg Config, bus *fanout.Bus, dlq deadletter.Sink, wm Watermarker, log zerolog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("broker: at least one broker address is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("broker: topic is required")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("broker: group id is required")
	}
	startOffset := cfg.StartOffset
	if startOffset == 0 {
		startOffset = kafka.FirstOffset
	}
	sessionTimeout := cfg.SessionTimeout
	if sessionTimeout <= 0 {
		sessionTimeout = 45 * time.Second
	}
	maxPollInterval := cfg.MaxPollInterval
	if maxPollInterval <= 0 {
		maxPollInterval = 5 * time.Minute
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:          cfg.Brokers,
		Topic:            cfg.Topic,
		GroupID:          cfg.GroupID,
		StartOffset:      startOffset,
		SessionTimeout:   sessionTimeout,
		RebalanceTimeout: maxPollInterval,
		CommitInterval:   0, // explicit per-record commit only
	})

	return &Consumer{
		reader:   reader,
		bus:      bus,
		dlq:      dlq,
		wm:       wm,
		mode:     cfg.CommitMode,
		log:      log.With().Str("component", "broker_consumer").Logger(),
		doneCh:   make(chan struct{}),
		deferred: newDeferredCommitter(),
	}, nil
}

// Start launches the poll loop on its own goroutine.
func (c *Consumer) Start(ctx context.Context) {
	go c.loop(ctx)
}

// Stop waits up to 30s for the poll loop to exit, then closes the reader.
func (c *Consumer) Stop() {
	select {
	case <-c.doneCh:
	case <-time.After(30 * time.Second):
		c.log.Warn().Msg("poll loop did not exit within shutdown grace period")
	}
	if err := c.reader.Close(); err != nil {
		c.log.Warn().Err(err).Msg("error closing reader")
	}
}

func (c *Consumer) loop(ctx context.Context) {
	defer close(c.doneCh)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if isFatal(err) {
				c.log.Error().Err(err).Msg("fatal broker error; exiting poll loop")
				_ = c.bus.PublishError(err)
				return
			}
			c.log.Warn().Err(err).Msg("transient fetch error; retrying after backoff")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoffOnFetchError):
			}
			continue
		}

		c.handle(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	event, err := decodeAndValidate(msg.Value)
	if err != nil {
		metrics.EventsConsumedTotal.WithLabelValues("malformed").Inc()
		c.log.Warn().Err(err).Int("partition", msg.Partition).Int64("offset", msg.Offset).Msg("unprocessable record; dead-lettering and committing anyway")
		c.deadLetter(ctx, err.Error(), msg)
		c.commitMalformed(ctx, msg)
		return
	}
	metrics.EventsConsumedTotal.WithLabelValues("accepted").Inc()

	if err := c.bus.Publish(ctx, event); err != nil {
		// fanout.Publish only fails on a nil event, which decodeAndValidate
		// never produces; logged defensively, record still commits.
		c.log.Error().Err(err).Msg("publish returned an error")
	}

	switch c.mode {
	case CommitDeferred:
		c.deferCommit(msg)
		c.flushDeferred(ctx)
	default:
		c.commitNow(ctx, msg)
	}
}

func decodeAndValidate(value []byte) (*domain.UserEvent, error) {
	var r record
	if err := json.Unmarshal(value, &r); err != nil {
		return nil, err
	}
	// Keep every other field under "data" as an opaque map entry.
	var extra struct {
		Data map[string]any `json:"data"`
	}
	_ = json.Unmarshal(value, &extra)
	data := map[string]any{}
	for k, v := range extra.Data {
		if !strings.EqualFold(k, "buttonId") {
			data[k] = v
		}
	}
	if r.Data.ButtonID != nil {
		data["button_id"] = *r.Data.ButtonID
	}
	event, err := domain.NewUserEvent(r.UserID, r.EventType, r.Timestamp, data)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (c *Consumer) deadLetter(ctx context.Context, reason string, msg kafka.Message) {
	if c.dlq == nil {
		return
	}
	if err := c.dlq.Publish(ctx, reason, msg.Partition, msg.Offset, msg.Value); err != nil {
		c.log.Warn().Err(err).Msg("dead-letter publish failed")
	}
}

func (c *Consumer) commitNow(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.log.Warn().Err(err).Int64("offset", msg.Offset).Msg("commit failed")
	}
}

// commitMalformed commits a record that was dead-lettered instead of
// published, so it never incremented anything and has no flush to wait for.
// In deferred mode it still has to go through the same per-partition buffer
// as every other pending commit: committing its offset immediately would
// jump the partition's committed high-water mark past any earlier record
// still buffered and waiting on its flush.
func (c *Consumer) commitMalformed(ctx context.Context, msg kafka.Message) {
	if c.mode == CommitDeferred {
		c.deferred.addReady(msg)
		c.flushDeferred(ctx)
		return
	}
	c.commitNow(ctx, msg)
}

// deferCommit records msg against the watermark observed right after
// Publish returned. OnNext already ran synchronously inside Publish, so
// this record's increment is already counted by the time this watermark
// value is read. releasable requires the watermark to advance by two past
// this value before releasing it: the flush immediately after this
// observation may already have taken its snapshot before the increment
// landed, so only the flush after that one is guaranteed to have started
// once the increment existed.
func (c *Consumer) deferCommit(msg kafka.Message) {
	c.deferred.add(msg, c.wm.Watermark())
}

// flushDeferred commits every buffered record that releasable reports safe:
// the watermark has advanced by at least two past the value recorded for
// it (or it carries no flush dependency), in fetch order per partition.
func (c *Consumer) flushDeferred(ctx context.Context) {
	for _, msg := range c.deferred.releasable(c.wm.Watermark()) {
		c.commitNow(ctx, msg)
	}
}

// isFatal reports whether err means the reader itself is gone (closed out
// from under the poll loop) rather than a transient network hiccup.
func isFatal(err error) bool {
	return errors.Is(err, io.EOF)
}
