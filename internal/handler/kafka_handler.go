package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"telemetry-hub/internal/models"
)

// flushTimeoutMs bounds the final flush on shutdown.
const flushTimeoutMs = 5000

// EventProducer publishes monitor events as JSON envelopes to a Kafka
// topic. Image and stethoscope payloads are not exported.
type EventProducer struct {
	producer *kafka.Producer
	topic    string
}

func NewEventProducer(brokers, topic string) (*EventProducer, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"linger.ms":         50,
	})
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return &EventProducer{producer: p, topic: topic}, nil
}

// Run produces every event received until ctx is done or events is
// closed, then flushes and closes the producer.
func (p *EventProducer) Run(ctx context.Context, events <-chan models.Event) {
	defer p.producer.Close()
	go p.reportDeliveries()

	log.Printf("Event producer started for topic '%s'", p.topic)
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return
		case e, ok := <-events:
			if !ok {
				p.flush()
				return
			}
			msg, err := eventMessage(p.topic, e)
			if err != nil {
				log.Printf("Error encoding %s event: %v", e.EventType(), err)
				continue
			}
			if msg == nil {
				continue
			}
			if err := p.producer.Produce(msg, nil); err != nil {
				log.Printf("Error producing %s event: %v", e.EventType(), err)
			}
		}
	}
}

func (p *EventProducer) flush() {
	log.Printf("Stopping event producer for topic: %s", p.topic)
	if left := p.producer.Flush(flushTimeoutMs); left > 0 {
		log.Printf("Event producer closed with %d undelivered message(s)", left)
	}
}

func (p *EventProducer) reportDeliveries() {
	for ev := range p.producer.Events() {
		switch e := ev.(type) {
		case *kafka.Message:
			if e.TopicPartition.Error != nil {
				log.Printf("Event delivery failed: %v", e.TopicPartition.Error)
			}
		case kafka.Error:
			log.Printf("Kafka Error: %v", e)
		}
	}
}

// eventMessage builds the Kafka message for e, keyed by device id so a
// device's events stay ordered within a partition. It returns nil for
// events that are not exported.
func eventMessage(topic string, e models.Event) (*kafka.Message, error) {
	var key string
	switch ev := e.(type) {
	case models.ImageReceived, models.AudioReceived:
		return nil, nil
	case models.ECGSamples:
		key = strconv.FormatUint(uint64(ev.DeviceID), 10)
	case models.HeartRate:
		key = strconv.FormatUint(uint64(ev.DeviceID), 10)
	case models.RangeChanged:
		key = strconv.FormatUint(uint64(ev.DeviceID), 10)
	case models.PatientUpdated:
		key = strconv.FormatUint(uint64(ev.Record.DeviceID), 10)
	case models.SpO2Samples:
		key = string(models.ChannelSpO2)
	case models.RecordingChanged:
		key = "recording"
	}
	value, err := json.Marshal(models.Wrap(e))
	if err != nil {
		return nil, err
	}
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          value,
	}, nil
}
