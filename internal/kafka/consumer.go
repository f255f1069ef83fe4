package kafka

import (
	"context"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
// A non-nil error means the message is retried.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	r       *kafka.Reader
	workers int
	logger  *zap.Logger

	// retry backoff bounds
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func NewConsumer(brokers []string, group string, topics []string, workers int, logger *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{r: r, workers: workers, logger: logger, MinBackoff: 200 * time.Millisecond, MaxBackoff: 5 * time.Second}
}

// Start dispatches messages to workers by topic partition, so one worker
// handles and commits each partition's messages in offset order; a
// committed offset never passes an unfinished message. Messages of one
// order share a partition key and so stay ordered as well.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	queues := make([]chan kafka.Message, c.workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := range queues {
		q := make(chan kafka.Message, 64)
		queues[i] = q
		g.Go(func() error {
			for m := range q {
				if !c.handle(gctx, h, m) {
					return nil
				}
				if err := c.r.CommitMessages(gctx, m); err != nil {
					c.logger.Error("kafka commit", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
				}
			}
			return nil
		})
	}

	// dispatcher loop
	var readErr error
	for {
		m, err := c.r.FetchMessage(gctx)
		if err != nil {
			// kecilkan noise saat shutdown
			if gctx.Err() == nil {
				readErr = err
			}
			break
		}
		q := queues[Slot(dispatchKey(m), c.workers)]
		select {
		case q <- m:
		case <-gctx.Done():
		}
	}
	for _, q := range queues {
		close(q)
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return readErr
}

// handle retries h with backoff until it succeeds; false means ctx ended first.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) bool {
	backoff := c.MinBackoff
	for {
		err := h(ctx, m)
		if err == nil {
			return true
		}
		c.logger.Warn("handler failed, retrying",
			zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Duration("backoff", backoff), zap.Error(err))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > c.MaxBackoff {
			backoff = c.MaxBackoff
		}
	}
}

// dispatchKey identifies the partition a message was read from.
func dispatchKey(m kafka.Message) []byte {
	return strconv.AppendInt([]byte(m.Topic+"/"), int64(m.Partition), 10)
}

// Slot maps a dispatch key to a worker index.
func Slot(key []byte, workers int) int {
	if workers <= 1 {
		return 0
	}
	return int(xxhash.Sum64(key) % uint64(workers))
}
