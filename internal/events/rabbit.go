package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// RabbitSink publishes events to a durable topic exchange using the event
// type as routing key.
type RabbitSink struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  amqpChannel
	exchange string
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

func NewRabbitSink(amqpURL, exchange string) (*RabbitSink, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	sink := &RabbitSink{conn: conn, channel: ch, exchange: exchange}
	if err := sink.declare(); err != nil {
		sink.Close()
		return nil, err
	}
	return sink, nil
}

func newRabbitSinkWithChannel(ch amqpChannel, exchange string) *RabbitSink {
	return &RabbitSink{channel: ch, exchange: exchange}
}

func (s *RabbitSink) declare() error {
	return s.channel.ExchangeDeclare(s.exchange, "topic", true, false, false, false, nil)
}

func (s *RabbitSink) Name() string { return "rabbitmq" }

func (s *RabbitSink) Deliver(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Type:         string(event.Type),
		Body:         body,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.channel.PublishWithContext(ctx, s.exchange, string(event.Type), false, false, msg)
	if err == nil {
		return nil
	}
	// One reopen attempt; the channel is closed by the broker after most errors.
	if s.conn == nil || s.conn.IsClosed() {
		return err
	}
	ch, chErr := s.conn.Channel()
	if chErr != nil {
		return errors.Join(err, chErr)
	}
	s.channel = ch
	if exErr := s.declare(); exErr != nil {
		return errors.Join(err, exErr)
	}
	return s.channel.PublishWithContext(ctx, s.exchange, string(event.Type), false, false, msg)
}

func (s *RabbitSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != nil {
		_ = s.channel.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
