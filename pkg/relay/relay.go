// Package relay forwards unsolicited device advertisements to MQTT.
package relay

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/sfslink/pkg/relay/msgs"
	"github.com/robotalks/sfslink/pkg/uart/comm"
)

// Relay defaults.
const (
	DefaultTopic   = "adv"
	DefaultBacklog = 64
)

// Publisher publishes a payload to a topic. Queue implements it.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Relay is a comm.MessageHandler publishing advertisements as
// msgs.Advertisement to <gateway-id>/<topic>. Messages are queued and
// published by Run so the receive loop never waits for the broker.
type Relay struct {
	Publisher Publisher
	GatewayID string
	Topic     string

	advCh chan *msgs.Advertisement
	now   func() time.Time
}

// New creates a Relay.
func New(pub Publisher, gatewayID string) *Relay {
	return &Relay{
		Publisher: pub,
		GatewayID: gatewayID,
		Topic:     DefaultTopic,
		advCh:     make(chan *msgs.Advertisement, DefaultBacklog),
		now:       time.Now,
	}
}

// Name implements framework.Named.
func (r *Relay) Name() string {
	return "relay"
}

// FullTopic returns the topic advertisements are published to.
func (r *Relay) FullTopic() string {
	return r.GatewayID + "/" + r.Topic
}

// HandleMessage implements comm.MessageHandler.
func (r *Relay) HandleMessage(ctx context.Context, msg *comm.Message) {
	adv := &msgs.Advertisement{
		GatewayID:  r.GatewayID,
		MsgID:      uint32(msg.MsgID),
		Command:    uint32(msg.Command),
		Args:       msg.Args,
		Payload:    msg.Payload,
		ReceivedAt: r.now().UnixNano(),
	}
	select {
	case r.advCh <- adv:
	default:
		glog.Warningf("relay backlog full, drop advertisement %s", msg)
	}
}

// Run publishes queued advertisements until ctx is canceled.
func (r *Relay) Run(ctx context.Context) error {
	topic := r.FullTopic()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case adv := <-r.advCh:
			payload, err := adv.Encode()
			if err != nil {
				glog.Errorf("encode advertisement: %v", err)
				continue
			}
			if err = r.Publisher.Publish(topic, payload); err != nil {
				glog.Errorf("publish advertisement: %v", err)
			}
		}
	}
}
