package rst

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// createMQTTClient initializes and connects a new MQTT client.
func createMQTTClient(cfg MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.SetClientID("rst-alpaca")
	opts.AddBroker(cfg.Host)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %v", token.Error())
	}
	return client, nil
}

// Remote commands accepted on the commands topic.
const (
	remoteAbort = "abort"
	remotePark  = "park"
)

// Telemetry publishes mount status snapshots over MQTT and accepts a small
// set of remote commands.
//
// Topics, relative to the configured root:
//
//	<root>/telemetry  status snapshot as JSON
//	<root>/commands   "_abort;" or "_park;"
//	<root>/responses  "_ACK_<command>;" or "_NACK_<command>;"
type Telemetry struct {
	client   mqtt.Client
	root     string
	interval time.Duration
	status   func() Status
	commands map[string]func() error
	logger   log.FieldLogger
}

func NewTelemetry(client mqtt.Client, cfg MQTTConfig, status func() Status, logger log.FieldLogger) *Telemetry {
	interval := time.Duration(cfg.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Telemetry{
		client:   client,
		root:     cfg.TopicRoot,
		interval: interval,
		status:   status,
		commands: make(map[string]func() error),
		logger:   logger.WithField("component", "telemetry"),
	}
}

// Handle registers the action run for a remote command.
func (t *Telemetry) Handle(command string, fn func() error) {
	t.commands[command] = fn
}

// Run subscribes to the commands topic and publishes telemetry until the
// context is cancelled.
func (t *Telemetry) Run(ctx context.Context) {
	if !t.client.IsConnected() {
		t.logger.Error("MQTT client is not connected")
		return
	}

	commandTopic := t.root + "/commands"
	if token := t.client.Subscribe(commandTopic, 0, t.commandHandler); token.Wait() && token.Error() != nil {
		t.logger.Errorf("Failed to subscribe to commands topic: %v", token.Error())
		return
	}
	defer t.client.Unsubscribe(commandTopic)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Publish(); err != nil {
				t.logger.Warnf("Failed to publish telemetry: %v", err)
			}
		}
	}
}

// Publish sends one status snapshot.
func (t *Telemetry) Publish() error {
	payload, err := json.Marshal(t.status())
	if err != nil {
		return err
	}
	token := t.client.Publish(t.root+"/telemetry", 0, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish telemetry: %v", token.Error())
	}
	return nil
}

// parseCommand accepts "_<command>;" and bare "<command>".
func parseCommand(payload string) string {
	cmd := strings.TrimSpace(payload)
	cmd = strings.TrimPrefix(cmd, "_")
	cmd = strings.TrimSuffix(cmd, ";")
	return strings.ToLower(cmd)
}

func (t *Telemetry) commandHandler(client mqtt.Client, msg mqtt.Message) {
	cmd := parseCommand(string(msg.Payload()))
	t.logger.Infof("Remote command %q", cmd)

	result := "ACK"
	if fn, ok := t.commands[cmd]; !ok {
		t.logger.Warnf("Unknown remote command %q", cmd)
		result = "NACK"
	} else if err := fn(); err != nil {
		t.logger.Errorf("Remote command %q failed: %v", cmd, err)
		result = "NACK"
	}

	resp := fmt.Sprintf("_%s_%s;", result, cmd)
	if token := client.Publish(t.root+"/responses", 0, false, resp); token.Wait() && token.Error() != nil {
		t.logger.Warnf("Failed to publish response: %v", token.Error())
	}
}
