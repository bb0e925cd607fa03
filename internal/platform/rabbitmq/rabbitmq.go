package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const heartbeat = 10 * time.Second

// ExchangeKind is the type of a named event exchange. Consumers bind with
// "<routing key>.analyzed", "<routing key>.failed" or "<routing key>.*".
const ExchangeKind = amqp.ExchangeTopic

// New dials the broker and proves it is usable by opening a channel before
// ctx ends.
func New(ctx context.Context, url string) (*amqp.Connection, error) {
	type result struct {
		conn *amqp.Connection
		err  error
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		conn, err := amqp.DialConfig(url, amqp.Config{Heartbeat: heartbeat, Locale: "en_US"})
		if err != nil {
			done <- result{err: fmt.Errorf("dial rabbitmq failed: %w", err)}
			return
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			done <- result{err: fmt.Errorf("open rabbitmq channel failed: %w", err)}
			return
		}
		_ = ch.Close()
		done <- result{conn: conn}
	}()

	select {
	case <-dialCtx.Done():
		// The dial goroutine may still succeed; close what it returns.
		go func() {
			if r := <-done; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return nil, fmt.Errorf("rabbitmq connect timeout: %w", dialCtx.Err())
	case r := <-done:
		return r.conn, r.err
	}
}
