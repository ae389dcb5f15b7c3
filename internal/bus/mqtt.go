package bus

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	defaultMQTTPort = "1883"
	connectTimeout  = 10 * time.Second
)

type MQTTConfig struct {
	Host     string
	Username string
	Password string
	QoS      byte
	ClientID string
}

type mqttSubscription struct {
	filters map[string]byte
	handler mqtt.MessageHandler
}

// MQTTBus publishes and subscribes through an MQTT broker. Subscriptions are re-established
// whenever the client reconnects.
type MQTTBus struct {
	client mqtt.Client
	qos    byte

	subscriptions []mqttSubscription
	mu            sync.Mutex
}

var _ Bus = &MQTTBus{}

// NewMQTTBus connects to the broker and returns once the connection is established.
func NewMQTTBus(ctx context.Context, config *MQTTConfig) (*MQTTBus, error) {
	b := &MQTTBus{qos: config.QoS}

	clientID := config.ClientID
	if clientID == "" {
		clientID = "horme-reconf-" + uuid.NewString()[:8]
	}
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL(config.Host)).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Err(err).Msg("lost connection to mqtt broker")
		})
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}

	b.client = mqtt.NewClient(opts)
	if err := wait(ctx, b.client.Connect()); err != nil {
		return nil, fmt.Errorf("connecting to mqtt broker %s: %w", config.Host, err)
	}
	log.Info().Str("host", config.Host).Msg("connected to mqtt broker")
	return b, nil
}

func (b *MQTTBus) onConnect(client mqtt.Client) {
	b.mu.Lock()
	subs := slices.Clone(b.subscriptions)
	b.mu.Unlock()

	for _, sub := range subs {
		token := client.SubscribeMultiple(sub.filters, sub.handler)
		go func() {
			token.Wait()
			if err := token.Error(); err != nil {
				log.Error().Err(err).Msg("unable to restore mqtt subscription")
			}
		}()
	}
}

func (b *MQTTBus) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	return wait(ctx, b.client.Publish(topic, b.qos, retained, payload))
}

func (b *MQTTBus) Subscribe(ctx context.Context, filters []string, handler Handler) error {
	sub := mqttSubscription{
		filters: make(map[string]byte, len(filters)),
		handler: func(_ mqtt.Client, msg mqtt.Message) {
			handler(msg.Topic(), msg.Payload())
		},
	}
	for _, filter := range filters {
		sub.filters[filter] = b.qos
	}

	b.mu.Lock()
	b.subscriptions = append(b.subscriptions, sub)
	b.mu.Unlock()

	return wait(ctx, b.client.SubscribeMultiple(sub.filters, sub.handler))
}

func (b *MQTTBus) Close() error {
	b.client.Disconnect(250)
	return nil
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// brokerURL turns a bare host into a tcp url on the default MQTT port.
func brokerURL(host string) string {
	if strings.Contains(host, "://") {
		return host
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, defaultMQTTPort)
	}
	return "tcp://" + host
}
