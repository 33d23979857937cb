// Package publish рассылает события о предсказаниях во внешние системы
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"vitals-risk-service/internal/models"
)

// Publisher публикует события о предсказаниях
type Publisher interface {
	Publish(ctx context.Context, event models.PredictionEvent) error
	Close()
}

// Nop публикатор, который ничего не делает
type Nop struct{}

// Publish ничего не делает
func (Nop) Publish(context.Context, models.PredictionEvent) error { return nil }

// Close ничего не делает
func (Nop) Close() {}

// Options параметры MQTT публикатора
type Options struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// client подмножество mqtt.Client, которое нужно публикатору
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher публикует события в MQTT топик <prefix>/<variant>
type MQTTPublisher struct {
	client client
	prefix string
	qos    byte
	logger *zap.Logger
}

// NewMQTTPublisher подключается к брокеру
func NewMQTTPublisher(ctx context.Context, opts Options, logger *zap.Logger) (*MQTTPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.Broker)
	clientOpts.SetClientID(opts.ClientID)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetCleanSession(true)
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	c := mqtt.NewClient(clientOpts)
	if err := waitToken(ctx, c.Connect()); err != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", opts.Broker, err)
	}
	logger.Info("Connected to MQTT broker", zap.String("broker", opts.Broker))

	return newMQTTPublisher(c, opts.TopicPrefix, opts.QoS, logger), nil
}

func newMQTTPublisher(c client, prefix string, qos byte, logger *zap.Logger) *MQTTPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTPublisher{client: c, prefix: prefix, qos: qos, logger: logger}
}

// Topic возвращает топик варианта
func (p *MQTTPublisher) Topic(variant string) string {
	return p.prefix + "/" + variant
}

// Publish публикует событие в JSON
func (p *MQTTPublisher) Publish(ctx context.Context, event models.PredictionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	topic := p.Topic(event.Variant)
	if err := waitToken(ctx, p.client.Publish(topic, p.qos, false, payload)); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close отключается от брокера
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
