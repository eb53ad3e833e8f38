package handler

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"telemetry-hub/internal/config"
	"telemetry-hub/internal/models"
)

// controlTopics names the MQTT control plane under a topic prefix.
type controlTopics struct {
	prefix string
}

func (t controlTopics) commands() string { return t.prefix + "/control/+" }
func (t controlTopics) result() string   { return t.prefix + "/control/result" }

// parse decodes a control message. The command name is the last topic
// level; the optional JSON payload carries its arguments.
func (t controlTopics) parse(topic string, payload []byte) (models.Command, error) {
	var cmd models.Command
	name, ok := strings.CutPrefix(topic, t.prefix+"/control/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return cmd, fmt.Errorf("%w: topic %q", ErrUnknownCommand, topic)
	}
	if len(strings.TrimSpace(string(payload))) > 0 {
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return cmd, fmt.Errorf("decoding %s payload: %w", name, err)
		}
	}
	cmd.Name = name
	return cmd, nil
}

func NewMessageHandler(ctrl *Controller, prefix string) mqtt.MessageHandler {
	topics := controlTopics{prefix: prefix}
	return func(client mqtt.Client, msg mqtt.Message) {
		log.Printf("Received message: %s from topic: %s", msg.Payload(), msg.Topic())
		if msg.Topic() == topics.result() {
			return
		}

		var res models.CommandResult
		cmd, err := topics.parse(msg.Topic(), msg.Payload())
		if err != nil {
			res = models.CommandResult{Command: cmd.Name, Error: err.Error()}
			log.Printf("Ignoring control message: %v", err)
		} else {
			res = ctrl.Execute(cmd)
		}

		body, err := json.Marshal(res)
		if err != nil {
			log.Printf("Error marshalling command result: %v", err)
			return
		}
		token := client.Publish(topics.result(), 1, false, body)
		go func() {
			if token.Wait() && token.Error() != nil {
				log.Printf("Error publishing command result: %v", token.Error())
			}
		}()
	}
}

var connectLostHandler mqtt.ConnectionLostHandler = func(client mqtt.Client, err error) {
	log.Printf("Connection lost: %v", err)
}

func InitializeMQTT(cfg *config.Config, ctrl *Controller) (mqtt.Client, error) {
	topics := controlTopics{prefix: cfg.MQTTTopicPrefix}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetUsername(cfg.MQTTUsername)
	opts.SetPassword(cfg.MQTTPassword)
	opts.SetDefaultPublishHandler(NewMessageHandler(ctrl, cfg.MQTTTopicPrefix))
	opts.OnConnect = func(client mqtt.Client) {
		log.Println("Connected to MQTT broker")
		subscribeToTopics(client, topics)
	}
	opts.OnConnectionLost = connectLostHandler

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	return client, nil
}

func subscribeToTopics(client mqtt.Client, topics controlTopics) {
	topic := topics.commands()
	token := client.Subscribe(topic, 1, nil)
	if token.Wait() && token.Error() != nil {
		log.Printf("Failed to subscribe to topic %s: %v", topic, token.Error())
		return
	}
	log.Printf("Subscribed to topic: %s", topic)
}
