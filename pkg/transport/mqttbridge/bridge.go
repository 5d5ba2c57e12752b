// Package mqttbridge implements the transport boundary over an MQTT broker.
// A gateway publishes decoded device events as JSON envelopes under a topic
// root; outbound commands are published back under the same root.
package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mvickers/meshdeck/pkg/models"
	"github.com/mvickers/meshdeck/pkg/transport"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	eventBuffer    = 256
)

// Options configures a broker connection for one device link.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	// Root is the topic root for this device, e.g. "meshdeck/dev-a1b2".
	// Events arrive on <root>/events, commands go to <root>/commands.
	Root string
}

// Bridge is an MQTT-backed transport.
type Bridge struct {
	client pahomqtt.Client
	root   string
	log    *slog.Logger

	// mu serializes sends with the channel close so a paho callback still
	// running during Close cannot send on a closed channel.
	mu     sync.Mutex
	closed bool
	events chan models.Event

	closeOnce sync.Once
}

var _ transport.Transport = (*Bridge)(nil)

// Connect dials the broker and subscribes to the device's event topic.
func Connect(opts Options, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		root:   opts.Root,
		events: make(chan models.Event, eventBuffer),
		log:    logger,
	}

	clientOpts := pahomqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetAutoReconnect(true).
		SetOrderMatters(true)
	clientOpts.SetOnConnectHandler(func(c pahomqtt.Client) {
		token := c.Subscribe(b.root+"/events", 1, b.handleMessage)
		if token.WaitTimeout(connectTimeout) && token.Error() != nil {
			b.log.Error("event topic subscription failed", "root", b.root, "error", token.Error())
		}
	})
	clientOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		b.log.Warn("broker connection lost", "root", b.root, "error", err)
		b.deliver(models.PhaseChangeEvent{Phase: models.PhaseReconnecting, Time: time.Now()})
	})

	b.client = pahomqtt.NewClient(clientOpts)
	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connecting to broker %s: timeout", opts.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to broker %s: %w", opts.BrokerURL, err)
	}
	return b, nil
}

// Events implements transport.Transport.
func (b *Bridge) Events() <-chan models.Event {
	return b.events
}

// envelope is the JSON wire form of one decoded event.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (b *Bridge) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	var env envelope
	if err := json.Unmarshal(msg.Payload(), &env); err != nil {
		b.log.Warn("dropping undecodable event envelope", "topic", msg.Topic(), "error", err)
		return
	}
	ev, err := decodeEvent(env)
	if err != nil {
		b.log.Warn("dropping unrecognized event", "type", env.Type, "error", err)
		return
	}
	b.deliver(ev)
}

// deliver pushes an event without blocking the paho callback goroutine.
// The engine keeps up under normal load; a full buffer means it is wedged
// and dropping is preferable to stalling the broker connection. Events
// arriving after Close are discarded.
func (b *Bridge) deliver(ev models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.events <- ev:
	default:
		b.log.Warn("event buffer full, dropping event", "root", b.root)
	}
}

func decodeEvent(env envelope) (models.Event, error) {
	switch env.Type {
	case "nodeInfo":
		var update models.NodeUpdate
		if err := json.Unmarshal(env.Data, &update); err != nil {
			return nil, err
		}
		return models.NodeInfoEvent{Update: update}, nil
	case "position":
		var update models.NodeUpdate
		if err := json.Unmarshal(env.Data, &update); err != nil {
			return nil, err
		}
		return models.PositionEvent{Update: update}, nil
	case "metrics":
		var update models.NodeUpdate
		if err := json.Unmarshal(env.Data, &update); err != nil {
			return nil, err
		}
		return models.MetricsEvent{Update: update}, nil
	case "text":
		var msg models.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, err
		}
		return models.TextMessageEvent{Message: msg}, nil
	case "receipt":
		var receipt models.DeliveryReceiptEvent
		if err := json.Unmarshal(env.Data, &receipt); err != nil {
			return nil, err
		}
		return receipt, nil
	case "configConfirm":
		var confirm models.ConfigConfirmEvent
		if err := json.Unmarshal(env.Data, &confirm); err != nil {
			return nil, err
		}
		return confirm, nil
	case "phase":
		var phase models.PhaseChangeEvent
		if err := json.Unmarshal(env.Data, &phase); err != nil {
			return nil, err
		}
		return phase, nil
	}
	return nil, fmt.Errorf("unknown event type %q", env.Type)
}

type command struct {
	Type          string                 `json:"type"`
	Conversation  models.ConversationKey `json:"conversation,omitempty"`
	Payload       string                 `json:"payload,omitempty"`
	AckRequested  bool                   `json:"ackRequested,omitempty"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	Section       string                 `json:"section,omitempty"`
	Value         map[string]any         `json:"value,omitempty"`
	Node          models.NodeID          `json:"node,omitempty"`
}

// SendText implements transport.Transport.
func (b *Bridge) SendText(ctx context.Context, conversation models.ConversationKey, payload string, ackRequested bool, correlationID string) error {
	return b.publish(ctx, command{
		Type:          "sendText",
		Conversation:  conversation,
		Payload:       payload,
		AckRequested:  ackRequested,
		CorrelationID: correlationID,
	})
}

// ApplyConfig implements transport.Transport.
func (b *Bridge) ApplyConfig(ctx context.Context, section string, value map[string]any) error {
	return b.publish(ctx, command{Type: "applyConfig", Section: section, Value: value})
}

// RequestPosition implements transport.Transport.
func (b *Bridge) RequestPosition(ctx context.Context, node models.NodeID) error {
	return b.publish(ctx, command{Type: "requestPosition", Node: node})
}

func (b *Bridge) publish(ctx context.Context, cmd command) error {
	blob, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encoding %s command: %w", cmd.Type, err)
	}
	token := b.client.Publish(b.root+"/commands", 1, false, blob)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publishing %s command: %w", cmd.Type, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("publishing %s command: timeout", cmd.Type)
	}
}

// Close disconnects from the broker and closes the event stream.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		if b.client != nil {
			b.client.Disconnect(250)
		}
		b.mu.Lock()
		b.closed = true
		close(b.events)
		b.mu.Unlock()
	})
	return nil
}
