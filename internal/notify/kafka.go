package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	DefaultTopic     = "shop-events"
	defaultQueueSize = 1024
	writeTimeout     = 5 * time.Second
)

var (
	ErrQueueFull   = errors.New("notification queue is full")
	ErrSinkStopped = errors.New("notification sink stopped")
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the JSON value of every published message.
type Envelope struct {
	ID         string           `json:"id"`
	Type       domain.EventType `json:"type"`
	OccurredAt time.Time        `json:"occurred_at"`
	Payload    domain.Event     `json:"payload"`
}

type KafkaConfig struct {
	Brokers   []string
	Topic     string
	QueueSize int
	// BreakerTimeout is how long the breaker stays open before probing Kafka again.
	BreakerTimeout time.Duration
}

// KafkaSink queues events and publishes them from Run. Notify never blocks:
// when the queue is full the event is dropped and ErrQueueFull is returned.
type KafkaSink struct {
	writer  messageWriter
	queue   chan kafka.Message
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *zap.Logger
	done    chan struct{}
}

func NewKafkaSink(cfg KafkaConfig, logger *zap.Logger) *KafkaSink {
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
	}
	return newKafkaSink(w, cfg, logger)
}

func newKafkaSink(w messageWriter, cfg KafkaConfig, logger *zap.Logger) *KafkaSink {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "kafka-notify",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &KafkaSink{
		writer:  w,
		queue:   make(chan kafka.Message, size),
		breaker: breaker,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

func (s *KafkaSink) Notify(_ context.Context, event domain.Event) error {
	msg, err := encode(event)
	if err != nil {
		return err
	}

	select {
	case <-s.done:
		return ErrSinkStopped
	default:
	}

	select {
	case s.queue <- msg:
		return nil
	default:
		return fmt.Errorf("%s: %w", event.Type(), ErrQueueFull)
	}
}

// Run publishes queued events until ctx is cancelled, then drains what is left
// with a short deadline and closes the writer.
func (s *KafkaSink) Run(ctx context.Context) error {
	for {
		select {
		case msg := <-s.queue:
			s.publish(ctx, msg)
		case <-ctx.Done():
			close(s.done)
			s.drain()
			return s.writer.Close()
		}
	}
}

func (s *KafkaSink) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	for {
		select {
		case msg := <-s.queue:
			s.publish(ctx, msg)
		default:
			return
		}
	}
}

func (s *KafkaSink) publish(ctx context.Context, msg kafka.Message) {
	_, err := s.breaker.Execute(func() (struct{}, error) {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		return struct{}{}, s.writer.WriteMessages(wctx, msg)
	})
	if err != nil {
		s.logger.Error("failed to publish event",
			zap.String("key", string(msg.Key)),
			zap.String("event_type", headerValue(msg, "event_type")),
			zap.Error(err))
	}
}

func encode(event domain.Event) (kafka.Message, error) {
	env := Envelope{
		ID:         uuid.NewString(),
		Type:       event.Type(),
		OccurredAt: time.Now().UTC(),
		Payload:    event,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal %s event: %w", event.Type(), err)
	}
	return kafka.Message{
		Key:   []byte(event.Key()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type())},
			{Key: "event_id", Value: []byte(env.ID)},
		},
	}, nil
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
