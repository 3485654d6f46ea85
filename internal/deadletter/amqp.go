package deadletter

import (
	"context"
	"strconv"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const routingKey = "record.unprocessable"

// AMQPSink publishes unprocessable records to a durable topic exchange for
// operator inspection. It declares the exchange once at construction and
// publishes best-effort thereafter.
type AMQPSink struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      zerolog.Logger
}

// Connect dials rabbitURL and declares exchange as a durable topic exchange.
func Connect(rabbitURL, exchange string, log zerolog.Logger) (*AMQPSink, error) {
	conn, err := amqp.Dial(strings.TrimSpace(rabbitURL))
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &AMQPSink{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		log:      log.With().Str("component", "deadletter").Logger(),
	}, nil
}

// Publish is best-effort: failures are logged and returned, and the consumer
// loop only logs the returned error, so its offset commit still proceeds
// when the dead-letter broker is down.
func (s *AMQPSink) Publish(ctx context.Context, reason string, partition int, offset int64, raw []byte) error {
	pub := amqp.Publishing{
		ContentType: "application/octet-stream",
		Body:        raw,
		Timestamp:   time.Now().UTC(),
		Headers: amqp.Table{
			"reason":    reason,
			"partition": strconv.Itoa(partition),
			"offset":    strconv.FormatInt(offset, 10),
		},
	}
	if err := s.ch.PublishWithContext(ctx, s.exchange, routingKey, false, false, pub); err != nil {
		s.log.Warn().Err(err).Str("reason", reason).Msg("dead-letter publish failed; record dropped from side channel")
		return err
	}
	return nil
}

// Close releases the channel and connection.
func (s *AMQPSink) Close() error {
	_ = s.ch.Close()
	return s.conn.Close()
}
