// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package feed shows MQTT messages on a sign. Each message on the subscribed
// topic becomes one text command; when messages arrive faster than the sign
// accepts them, only the newest waiting message is kept.
package feed

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Thermoquad/marquee/pkg/coolled"
	"github.com/Thermoquad/marquee/pkg/session"
)

// ErrConnectTimeout is returned when the broker does not accept the
// connection in time.
var ErrConnectTimeout = errors.New("mqtt connect timeout")

const connectWait = 5 * time.Second

// Sender delivers commands to the sign.
type Sender interface {
	Send(ctx context.Context, cmd coolled.Command) (*session.Result, error)
}

// BuildFunc turns a message into a command.
type BuildFunc func(text string) (coolled.Command, error)

// ClientFactory creates the MQTT client. Tests replace it.
type ClientFactory func(*mqtt.ClientOptions) mqtt.Client

// Options configure the broker connection.
type Options struct {
	Broker   string // tcp://host:1883, mqtt://, mqtts:// or ssl://
	Topic    string
	Username string
	Password string
	QoS      byte
}

// Feed subscribes to a topic and displays what arrives.
type Feed struct {
	opts      Options
	sender    Sender
	build     BuildFunc
	newClient ClientFactory
	pending   chan string
}

// New creates a feed. build may be nil to send plain text commands.
func New(opts Options, sender Sender, build BuildFunc) *Feed {
	if build == nil {
		build = func(text string) (coolled.Command, error) { return coolled.NewText(text), nil }
	}
	return &Feed{
		opts:      opts,
		sender:    sender,
		build:     build,
		newClient: mqtt.NewClient,
		pending:   make(chan string, 1),
	}
}

// SetClientFactory replaces the MQTT client constructor.
func (f *Feed) SetClientFactory(cf ClientFactory) {
	f.newClient = cf
}

// ClientOptions builds the paho options for the feed's broker.
func (f *Feed) ClientOptions() *mqtt.ClientOptions {
	broker := f.opts.Broker
	useTLS := false
	if scheme, rest, ok := strings.Cut(broker, "://"); ok {
		switch scheme {
		case "mqtts", "ssl":
			broker, useTLS = "ssl://"+rest, true
		case "mqtt":
			broker = "tcp://" + rest
		}
	} else {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID("marquee-" + uuid.New().String()[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetOrderMatters(false)
	if f.opts.Username != "" {
		opts.SetUsername(f.opts.Username)
		opts.SetPassword(f.opts.Password)
	}
	if useTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.OnConnect = func(c mqtt.Client) {
		// Subscribing here re-subscribes after every reconnect
		token := c.Subscribe(f.opts.Topic, f.opts.QoS, f.handle)
		if token.Wait() && token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", f.opts.Topic).Msg("mqtt subscribe failed")
			return
		}
		log.Info().Str("topic", f.opts.Topic).Msg("mqtt subscribed")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt connection lost")
	}
	return opts
}

func (f *Feed) handle(_ mqtt.Client, msg mqtt.Message) {
	text := strings.TrimSpace(string(msg.Payload()))
	if text == "" {
		return
	}
	for {
		select {
		case f.pending <- text:
			return
		default:
		}
		// Replace the stale message waiting for the sign
		select {
		case old := <-f.pending:
			log.Debug().Str("dropped", old).Msg("superseded mqtt message")
		default:
		}
	}
}

// Run connects to the broker and displays messages until ctx ends. Send
// failures are logged and do not stop the feed.
func (f *Feed) Run(ctx context.Context) error {
	client := f.newClient(f.ClientOptions())
	token := client.Connect()
	if !token.WaitTimeout(connectWait) {
		client.Disconnect(0)
		return fmt.Errorf("%w: %s", ErrConnectTimeout, f.opts.Broker)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("mqtt connect %s: %w", f.opts.Broker, err)
	}
	defer client.Disconnect(250)
	log.Info().Str("broker", f.opts.Broker).Msg("mqtt connected")

	for {
		select {
		case <-ctx.Done():
			return nil
		case text := <-f.pending:
			f.display(ctx, text)
		}
	}
}

func (f *Feed) display(ctx context.Context, text string) {
	cmd, err := f.build(text)
	if err != nil {
		log.Warn().Err(err).Str("text", text).Msg("cannot build command")
		return
	}
	res, err := f.sender.Send(ctx, cmd)
	if err != nil {
		log.Error().Err(err).Str("text", text).Msg("display failed")
		return
	}
	log.Info().Str("text", text).Bool("cache_hit", res.CacheHit).Uint32("attempts", res.Attempts).Msg("displayed")
}
