// Package queue consumes notification preparation requests from
// RabbitMQ. The message backend publishes one request per persisted
// message batch; this process shapes and dispatches the resulting
// pushes.
package queue

import (
	"context"
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ferrychat/ferry/server/concurrency"
	"github.com/ferrychat/ferry/server/logs"
	"github.com/ferrychat/ferry/server/push"
	t "github.com/ferrychat/ferry/server/store/types"
)

// PrepareRequest is the wire form of one preparation batch.
type PrepareRequest struct {
	Messages []*t.Message `json:"messages"`
	// Targets are older messages referenced by reactions and edits in
	// this batch, included so notify resolution can see their authors.
	Targets []*t.Message          `json:"targets,omitempty"`
	Threads t.ThreadSnapshot      `json:"threads"`
	Devices t.DeviceRegistry      `json:"devices"`
	Names   map[string]string     `json:"names,omitempty"`
	Sender  push.SenderDescriptor `json:"sender,omitempty"`
}

// Config is the broker connection config.
type Config struct {
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
	Queue    string `json:"queue"`
	Routing  string `json:"routing_key"`
}

// Intake is a durable consumer of preparation requests.
type Intake struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	queue    string
	consumer concurrency.SimpleMutex
}

// NewIntake connects to the broker and declares the durable exchange,
// queue and binding.
func NewIntake(conf Config) (*Intake, error) {
	if conf.URL == "" || conf.Queue == "" {
		return nil, errors.New("queue: broker URL and queue name are required")
	}
	conn, err := amqp.Dial(conf.URL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if conf.Exchange != "" {
		if err = ch.ExchangeDeclare(conf.Exchange, "topic", true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, err
		}
	}
	if _, err = ch.QueueDeclare(conf.Queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	if conf.Exchange != "" {
		if err = ch.QueueBind(conf.Queue, conf.Routing, conf.Exchange, false, nil); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return &Intake{
		conn:     conn,
		channel:  ch,
		queue:    conf.Queue,
		consumer: concurrency.NewSimpleMutex(),
	}, nil
}

// Consume delivers decoded requests to handle until the context is
// canceled or the broker connection drops. A request that fails to
// decode is rejected without requeue; a handler error leaves the request
// queued for redelivery.
func (in *Intake) Consume(ctx context.Context, handle func(context.Context, *PrepareRequest) error) error {
	// One consumer loop per intake; the ack bookkeeping is not safe for
	// concurrent Consume calls.
	if !in.consumer.TryLock() {
		return errors.New("queue: intake already consuming")
	}
	defer in.consumer.Unlock()

	deliveries, err := in.channel.Consume(in.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("queue: consume channel closed")
			}
			handleDelivery(ctx, d, handle)
		}
	}
}

// handleDelivery decodes and dispatches one delivery, settling it with
// the broker according to the outcome.
func handleDelivery(ctx context.Context, d amqp.Delivery, handle func(context.Context, *PrepareRequest) error) {
	var req PrepareRequest
	if err := json.Unmarshal(d.Body, &req); err != nil {
		logs.Warning.Println("queue: dropping malformed request:", err)
		_ = d.Reject(false)
		return
	}
	if err := handle(ctx, &req); err != nil {
		logs.Warning.Println("queue: request failed, requeueing:", err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// Close shuts down the channel and connection.
func (in *Intake) Close() error {
	if err := in.channel.Close(); err != nil {
		in.conn.Close()
		return err
	}
	return in.conn.Close()
}
