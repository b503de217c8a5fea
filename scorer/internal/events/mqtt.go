package events

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/eclipse/paho.golang/paho"
)

// MQTTOptions configures the MQTT source. Broker is host:port.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Topic    string
	Filter   Filter
}

// MQTT subscribes to a topic at QoS 1; every payload is a bucket
// notification.
type MQTT struct {
	opts MQTTOptions

	subscribed func() // test hook
}

// NewMQTT returns an MQTT source. Nothing is dialled until Run.
func NewMQTT(opts MQTTOptions) *MQTT {
	return &MQTT{opts: opts}
}

// Run implements Source.
func (m *MQTT) Run(ctx context.Context, dispatch Dispatch) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", m.opts.Broker)
	if err != nil {
		return fmt.Errorf("events: mqtt dial %s: %w", m.opts.Broker, err)
	}

	client := paho.NewClient(paho.ClientConfig{
		ClientID: m.opts.ClientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				n, err := DispatchNotification(ctx, pr.Packet.Payload, m.opts.Filter, dispatch)
				if err != nil {
					slog.Warn("events: dropping mqtt message", "topic", pr.Packet.Topic, "err", err)
					return true, nil
				}
				slog.Debug("events: mqtt message handled", "topic", pr.Packet.Topic, "dispatched", n)
				return true, nil
			},
		},
		OnClientError: func(err error) {
			slog.Error("events: mqtt client error", "err", err)
		},
	})

	ca, err := client.Connect(ctx, &paho.Connect{
		ClientID:   m.opts.ClientID,
		KeepAlive:  30,
		CleanStart: true,
	})
	if err != nil {
		return fmt.Errorf("events: mqtt connect: %w", err)
	}
	if ca.ReasonCode != 0 {
		return fmt.Errorf("events: mqtt connect refused: reason %d", ca.ReasonCode)
	}
	defer client.Disconnect(&paho.Disconnect{ReasonCode: 0}) //nolint:errcheck

	if _, err := client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: m.opts.Topic, QoS: 1}},
	}); err != nil {
		return fmt.Errorf("events: mqtt subscribe %s: %w", m.opts.Topic, err)
	}
	slog.Info("events: mqtt subscribed", "broker", m.opts.Broker, "topic", m.opts.Topic)
	if m.subscribed != nil {
		m.subscribed()
	}

	select {
	case <-ctx.Done():
		return nil
	case <-client.Done():
		return fmt.Errorf("events: mqtt connection lost")
	}
}
