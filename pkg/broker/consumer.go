package broker

import (
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrSubscribeTimeout is returned when the broker does not acknowledge a
// SUBSCRIBE within the consumer's timeout.
var ErrSubscribeTimeout = errors.New("subscribe not acknowledged in time")

// Subscriber is the part of mqtt.Client a Consumer needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// Consumer holds one topic subscription and can (re)establish it.
type Consumer struct {
	sub     Subscriber
	topic   string
	qos     byte
	handler mqtt.MessageHandler
	timeout time.Duration
}

// NewConsumer creates a Consumer for topic. handler runs on paho's goroutines.
func NewConsumer(sub Subscriber, topic string, qos byte, handler mqtt.MessageHandler) *Consumer {
	return &Consumer{
		sub:     sub,
		topic:   topic,
		qos:     qos,
		handler: handler,
		timeout: 10 * time.Second,
	}
}

// SetTimeout changes how long Subscribe waits for the SUBACK.
func (c *Consumer) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

func (c *Consumer) Topic() string { return c.topic }

// Subscribe sends SUBSCRIBE and waits for the acknowledgement.
func (c *Consumer) Subscribe() error {
	token := c.sub.Subscribe(c.topic, c.qos, c.handler)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("topic %s: %w", c.topic, ErrSubscribeTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.topic, err)
	}
	return nil
}

// Unsubscribe is best effort; the connection may already be gone.
func (c *Consumer) Unsubscribe() {
	c.sub.Unsubscribe(c.topic).WaitTimeout(c.timeout)
}
