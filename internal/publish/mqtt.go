// Package publish pushes the latest readings to an MQTT broker.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"

	"github.com/brianhealey/inkdash/internal/config"
	"github.com/brianhealey/inkdash/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	qos         = 1
	waitTimeout = 10 * time.Second
)

var loggersOnce sync.Once

// routeLogs sends paho's error and warning loggers through slog.
func routeLogs() {
	loggersOnce.Do(func() {
		h := slog.Default().Handler()
		mqtt.ERROR = slog.NewLogLogger(h, slog.LevelError)
		mqtt.CRITICAL = slog.NewLogLogger(h, slog.LevelError)
		mqtt.WARN = slog.NewLogLogger(h, slog.LevelWarn)
	})
}

// publisher is the part of mqtt.Client used here.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes retained weather and air-quality documents under a topic
// prefix.
type MQTT struct {
	client publisher
	conn   mqtt.Client
	topic  string
}

// NewMQTT builds a publisher for cfg. Call Connect before publishing.
func NewMQTT(cfg config.MQTT) *MQTT {
	routeLogs()

	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	clientID := cfg.ClientID
	if clientID == "" {
		host, _ := os.Hostname()
		clientID = fmt.Sprintf("inkdash-%s-%d", host, time.Now().Unix())
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		slog.Info("publish: connected to broker", "broker", broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("publish: connection lost, reconnecting", "err", err)
	})

	c := mqtt.NewClient(opts)
	return &MQTT{client: c, conn: c, topic: strings.TrimSuffix(cfg.Topic, "/")}
}

// Connect dials the broker.
func (m *MQTT) Connect(ctx context.Context) error {
	if m.conn == nil {
		return errors.New("publish: no connection")
	}
	if err := wait(ctx, m.conn.Connect()); err != nil {
		return fmt.Errorf("publish: connect: %w", err)
	}
	return nil
}

// Publish sends the weather and air-quality documents as retained JSON.
func (m *MQTT) Publish(ctx context.Context, s models.Snapshots) error {
	var errs []error
	for _, msg := range []struct {
		suffix string
		doc    any
	}{
		{models.SourceWeather, s.Weather},
		{models.SourceAirQuality, s.AirQuality},
	} {
		payload, err := json.Marshal(msg.doc)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish: encode %s: %w", msg.suffix, err))
			continue
		}
		topic := m.topic + "/" + msg.suffix
		if err := wait(ctx, m.client.Publish(topic, qos, true, payload)); err != nil {
			errs = append(errs, fmt.Errorf("publish: %s: %w", topic, err))
			continue
		}
		slog.Debug("publish: sent", "topic", topic, "bytes", len(payload))
	}
	return errors.Join(errs...)
}

// Close disconnects, letting in-flight messages finish.
func (m *MQTT) Close() {
	if m.conn != nil {
		m.conn.Disconnect(250)
	}
}

func wait(ctx context.Context, t mqtt.Token) error {
	ctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
