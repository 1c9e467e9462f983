// Package transport connects the dispatcher to an MQTT broker.
package transport

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/rc_agent/internal/config"
	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

// DefaultQueueSize bounds messages waiting for the dispatch worker.
const DefaultQueueSize = 64

// ClientFactory builds a paho client. Tests swap it for a fake.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// message is one received publish waiting for dispatch.
type message struct {
	topic   string
	payload []byte
}

// Subscriber receives publishes for the bound topics and feeds them to
// the dispatcher one at a time.
type Subscriber struct {
	cfg        *config.Config
	topics     []string
	dispatcher domain.Dispatcher
	newClient  ClientFactory
	queue      chan message
	done       chan struct{}
	logger     *zap.Logger
}

// NewSubscriber creates a subscriber for topics.
func NewSubscriber(cfg *config.Config, topics []string, dispatcher domain.Dispatcher, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		cfg:        cfg,
		topics:     topics,
		dispatcher: dispatcher,
		newClient:  mqtt.NewClient,
		queue:      make(chan message, DefaultQueueSize),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// WithClientFactory replaces the paho client constructor.
func (s *Subscriber) WithClientFactory(f ClientFactory) *Subscriber {
	s.newClient = f
	return s
}

// Run connects, subscribes and dispatches until ctx is canceled.
// The client reconnects on its own and resubscribes on every connect.
func (s *Subscriber) Run(ctx context.Context) error {
	defer close(s.done)

	opts := clientOptions(s.cfg, s.cfg.ClientID).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.logger.Warn("connection to broker lost", zap.Error(err))
		}).
		SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
			s.logger.Info("reconnecting to broker")
		})

	client := s.newClient(opts)

	workCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		s.work(workCtx)
	}()

	s.logger.Info("connecting to broker",
		zap.String("broker", s.cfg.BrokerURL()),
		zap.String("clientId", s.cfg.ClientID),
		zap.String("authMode", s.cfg.AuthMode),
		zap.Int("topics", len(s.topics)))

	if err := wait(ctx, client.Connect()); err != nil && ctx.Err() == nil {
		client.Disconnect(250)
		stopWorker()
		<-workerDone
		return fmt.Errorf("connecting to %s: %w", s.cfg.BrokerURL(), err)
	}

	<-ctx.Done()
	client.Disconnect(250)
	<-workerDone
	s.logger.Info("disconnected from broker")
	return nil
}

// onConnect subscribes every bound topic. Sessions are clean, so this
// runs again after each reconnect.
func (s *Subscriber) onConnect(c mqtt.Client) {
	s.logger.Info("connected to broker", zap.String("broker", s.cfg.BrokerURL()))
	if len(s.topics) == 0 {
		s.logger.Warn("no enabled bindings, nothing to subscribe")
		return
	}

	filters := make(map[string]byte, len(s.topics))
	for _, t := range s.topics {
		filters[t] = byte(s.cfg.QoS)
	}
	// Waiting here would stall paho's connect path; check in the background.
	token := c.SubscribeMultiple(filters, s.onMessage)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Error("subscribe failed", zap.Error(err))
			return
		}
		s.logger.Info("subscribed", zap.Strings("topics", s.topics))
	}()
}

// onMessage runs on paho's router goroutine. It blocks while the queue is
// full so ordering is kept.
func (s *Subscriber) onMessage(_ mqtt.Client, m mqtt.Message) {
	msg := message{topic: m.Topic(), payload: append([]byte(nil), m.Payload()...)}
	select {
	case s.queue <- msg:
	case <-s.done:
	}
}

// work dispatches queued messages serially.
func (s *Subscriber) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.queue:
			s.logger.Debug("received message",
				zap.String("topic", msg.topic),
				zap.ByteString("payload", msg.payload))
			s.dispatcher.Dispatch(ctx, msg.topic, msg.payload)
		}
	}
}

// Publisher sends single messages for the CLI.
type Publisher struct {
	cfg       *config.Config
	newClient ClientFactory
	timeout   time.Duration
	logger    *zap.Logger
}

// NewPublisher creates a publisher.
func NewPublisher(cfg *config.Config, logger *zap.Logger) *Publisher {
	return &Publisher{
		cfg:       cfg,
		newClient: mqtt.NewClient,
		timeout:   10 * time.Second,
		logger:    logger,
	}
}

// WithClientFactory replaces the paho client constructor.
func (p *Publisher) WithClientFactory(f ClientFactory) *Publisher {
	p.newClient = f
	return p
}

// Publish connects, publishes payload to topic and disconnects.
func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	opts := clientOptions(p.cfg, p.clientID()).
		SetConnectRetry(false).
		SetAutoReconnect(false)
	client := p.newClient(opts)

	if err := wait(ctx, client.Connect()); err != nil {
		return fmt.Errorf("connecting to %s: %w", p.cfg.BrokerURL(), err)
	}
	defer client.Disconnect(250)

	if err := wait(ctx, client.Publish(topic, byte(p.cfg.QoS), false, payload)); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	p.logger.Info("published", zap.String("topic", topic), zap.Int("bytes", len(payload)))
	return nil
}

// clientID keeps the agent's session alive when credentials allow it.
// In private-key mode the id is the credential and must be reused.
func (p *Publisher) clientID() string {
	if p.cfg.UsesPassword() && p.cfg.ClientID != "" {
		return p.cfg.ClientID + "-cli"
	}
	return p.cfg.ClientID
}

// clientOptions builds the connection options shared by both sides.
func clientOptions(cfg *config.Config, clientID string) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL()).
		SetClientID(clientID).
		SetCleanSession(true).
		SetKeepAlive(cfg.KeepAlive).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetMaxReconnectInterval(cfg.ReconnectMax).
		SetOrderMatters(true)

	// private_key mode authenticates by client id alone
	if cfg.UsesPassword() && cfg.Username != "" && cfg.Password != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}
	return opts
}

// wait blocks until token completes or ctx is done.
func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
