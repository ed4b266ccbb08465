package broker

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher sends payloads to a broker with a fixed QoS.
type Publisher struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
}

func NewPublisher(client mqtt.Client, qos byte) *Publisher {
	return &Publisher{client: client, qos: qos, timeout: 5 * time.Second}
}

// Publish sends payload to topic and waits for the broker acknowledgement
// (for QoS 0, until the packet is written).
func (p *Publisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}
