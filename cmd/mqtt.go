// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/marquee/pkg/coolled"
	"github.com/Thermoquad/marquee/pkg/feed"
	"github.com/Thermoquad/marquee/pkg/metrics"
	"github.com/Thermoquad/marquee/pkg/session"
)

// mqttPasswordEnv keeps the broker password apart from the bridge password
const mqttPasswordEnv = "MARQUEE_MQTT_PASSWORD"

var (
	mqttBroker        string
	mqttTopic         string
	mqttUser          string
	mqttQoS           uint8
	mqttMetricsListen string
)

var mqttCmd = &cobra.Command{
	Use:   "mqtt",
	Short: "Display text messages published to an MQTT topic",
	Long: `Subscribe to an MQTT topic and show each message on the sign.

Messages are rendered with the same flags as the text command. When messages
arrive faster than the sign accepts them, only the newest waiting message is
shown. The broker password is read from MARQUEE_MQTT_PASSWORD.

Example:
  marquee -a AA:BB:CC:DD:EE:FF mqtt --broker mqtt://broker.local --topic signs/front`,
	Args: cobra.NoArgs,
	RunE: runMQTT,
}

func init() {
	f := mqttCmd.Flags()
	f.StringVar(&mqttBroker, "broker", "", "Broker URL (tcp://, mqtt://, mqtts:// or ssl://)")
	f.StringVar(&mqttTopic, "topic", "", "Topic to subscribe to")
	f.StringVar(&mqttUser, "mqtt-user", "", "Broker username")
	f.Uint8Var(&mqttQoS, "qos", 0, "Subscription QoS (0-2)")
	f.StringVar(&mqttMetricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address")

	f.StringVar(&textColor, "color", "#ffffff", "Text colour before the first tag")
	f.StringVar(&textFont, "font", string(coolled.DefaultFont), "Font: go, gomono, basic or a font file")
	f.IntVar(&textFontHeight, "font-height", coolled.DefaultFontHeight, "Font height in pixels")
	f.BoolVar(&textNoMarkup, "no-markup", false, "Treat < and > as literal text")
	textLayout.register(mqttCmd, coolled.DefaultLayout())

	_ = mqttCmd.MarkFlagRequired("broker")
	_ = mqttCmd.MarkFlagRequired("topic")
	rootCmd.AddCommand(mqttCmd)
}

func runMQTT(cmd *cobra.Command, _ []string) error {
	if mqttQoS > 2 {
		return usage(fmt.Errorf("qos %d out of range 0-2", mqttQoS))
	}
	// Reject bad colour and layout flags before connecting
	if _, err := buildText(""); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var handlers []session.EventHandler
	if mqttMetricsListen != "" {
		reg := metrics.NewRegistry()
		handlers = append(handlers, metrics.New(reg).Observe)

		served := make(chan error, 1)
		go func() { served <- serveHTTP(ctx, mqttMetricsListen, metrics.Handler(reg)) }()
		defer func() {
			cancel()
			if err := <-served; err != nil {
				log.Warn().Err(err).Msg("metrics server")
			}
		}()
	}

	conn, err := openSession(handlers...)
	if err != nil {
		return err
	}
	defer conn.Close()

	f := feed.New(feed.Options{
		Broker:   mqttBroker,
		Topic:    mqttTopic,
		Username: mqttUser,
		Password: os.Getenv(mqttPasswordEnv),
		QoS:      mqttQoS,
	}, conn.session, func(text string) (coolled.Command, error) {
		return buildText(text)
	})

	fmt.Fprintf(os.Stderr, "Showing %s on %s (Ctrl+C to stop)\n", mqttTopic, conn.description)
	return f.Run(ctx)
}
