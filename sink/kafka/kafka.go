// Package kafka publishes push outcomes to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/bobg/couchpush"
	"github.com/bobg/couchpush/push"
)

var _ push.Observer = &Observer{}

// Event is the JSON value of each published message.
// Exactly one of Result and Error is set.
type Event struct {
	Result *couchpush.Result `json:"result,omitempty"`
	Error  *couchpush.Error  `json:"error,omitempty"`
	Time   time.Time         `json:"time"`
}

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Observer is a push.Observer that publishes each outcome as an Event,
// keyed by document id when there is one.
type Observer struct {
	w   messageWriter
	now func() time.Time
}

// New produces a new Observer publishing to topic on the given brokers.
func New(brokers []string, topic string) *Observer {
	return &Observer{
		w: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		now: time.Now,
	}
}

// Observe implements push.Observer.
func (o *Observer) Observe(ctx context.Context, res *couchpush.Result, err error) {
	msg, err := o.message(res, err)
	if err != nil {
		log.Printf("ERROR encoding push outcome: %s", err)
		return
	}
	if err = o.w.WriteMessages(ctx, msg); err != nil {
		log.Printf("ERROR publishing push outcome: %s", err)
	}
}

func (o *Observer) message(res *couchpush.Result, err error) (kafka.Message, error) {
	ev := Event{
		Result: res,
		Error:  couchpush.AsError(err),
		Time:   o.now(),
	}
	j, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, "encoding event")
	}

	msg := kafka.Message{
		Value: j,
		Time:  ev.Time,
	}
	if res != nil {
		msg.Key = []byte(res.ID)
	}
	return msg, nil
}

// Close closes the underlying Kafka writer.
func (o *Observer) Close() error {
	return o.w.Close()
}
