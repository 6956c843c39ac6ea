package paper

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Record runs on the tick worker, so a hand-off must finish well inside the
// bus stop timeout.
const defaultPublishTimeout = 500 * time.Millisecond

// messageWriter is the subset of *kafka.Writer the recorder needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRecorder publishes each trade as a JSON message keyed by symbol.
type KafkaRecorder struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
	log     zerolog.Logger
}

// NewKafkaRecorder builds a recorder writing to topic on brokers.
func NewKafkaRecorder(brokers []string, topic string, log zerolog.Logger) (*KafkaRecorder, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka recorder: brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka recorder: topic is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Gzip,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
	}
	r := newKafkaRecorder(w, topic, log)
	w.Completion = r.onCompletion
	return r, nil
}

func newKafkaRecorder(w messageWriter, topic string, log zerolog.Logger) *KafkaRecorder {
	return &KafkaRecorder{
		writer:  w,
		topic:   topic,
		timeout: defaultPublishTimeout,
		log:     log.With().Str("component", "kafka_recorder").Str("topic", topic).Logger(),
	}
}

// Record publishes rec. Failures are logged; trading continues.
func (r *KafkaRecorder) Record(rec TradeRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		r.log.Error().Err(err).Str("trade_id", rec.ID).Msg("marshal trade")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	msg := kafka.Message{Key: []byte(rec.Symbol), Value: payload, Time: rec.Ts}
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		r.log.Error().Err(err).Str("trade_id", rec.ID).Msg("publish trade")
	}
}

// onCompletion reports the outcome of an asynchronous batch.
func (r *KafkaRecorder) onCompletion(msgs []kafka.Message, err error) {
	if err != nil {
		r.log.Error().Err(err).Int("messages", len(msgs)).Msg("publish trades")
		return
	}
	r.log.Debug().Int("messages", len(msgs)).Msg("trades published")
}

// Close flushes pending messages and closes the writer.
func (r *KafkaRecorder) Close() error {
	return r.writer.Close()
}
