package eventbus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/lzjever/mbos-wrt/internal/core"
	"github.com/lzjever/mbos-wrt/internal/observability"
)

type NATSConfig struct {
	URL           string `envconfig:"WRT_NATS_URL"`
	SubjectPrefix string `envconfig:"WRT_NATS_SUBJECT_PREFIX" default:"wrt.workspace"`
}

// NATSForwarder republishes bus events on NATS subjects so processes
// outside the daemon can follow workspace lifecycles.
type NATSForwarder struct {
	nc     *nats.Conn
	prefix string
	log    *zap.Logger
	sub    *Subscription
}

func NewNATSForwarder(cfg NATSConfig, log *zap.Logger) (*NATSForwarder, error) {
	opts := []nats.Option{
		nats.Name("wrt-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return &NATSForwarder{nc: nc, prefix: cfg.SubjectPrefix, log: log}, nil
}

// Attach subscribes the forwarder to every event on bus.
func (f *NATSForwarder) Attach(bus *Bus) {
	f.sub = bus.Subscribe(f.forward, nil)
}

func (f *NATSForwarder) forward(ev core.LifecycleEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		observability.EventsForwardedTotal.WithLabelValues("error").Inc()
		f.log.Error("marshal event", zap.Error(err))
		return
	}
	if f.nc.IsClosed() {
		observability.EventsForwardedTotal.WithLabelValues("error").Inc()
		return
	}
	if err := f.nc.Publish(Subject(f.prefix, ev), payload); err != nil {
		observability.EventsForwardedTotal.WithLabelValues("error").Inc()
		f.log.Warn("forward event", zap.String("wsid", ev.WorkspaceID), zap.Error(err))
		return
	}
	observability.EventsForwardedTotal.WithLabelValues("ok").Inc()
}

// Close detaches from the bus and drains pending publishes.
func (f *NATSForwarder) Close() {
	if f.sub != nil {
		f.sub.Unsubscribe()
	}
	if f.nc != nil {
		_ = f.nc.Drain()
	}
}

// Subject is <prefix>.<wsid>.<event type in lower case>.
func Subject(prefix string, ev core.LifecycleEvent) string {
	return prefix + "." + ev.WorkspaceID + "." + strings.ToLower(string(ev.Type))
}
