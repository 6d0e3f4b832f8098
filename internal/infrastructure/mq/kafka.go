package mq

import (
	"fmt"

	"photorevive/internal/config"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Publisher 账务事件发布者
type Publisher interface {
	Publish(topic, key, value string) error
	Close() error
}

// KafkaPublisher 基于 sarama 同步生产者
type KafkaPublisher struct {
	producer sarama.SyncProducer
}

// NewKafkaPublisher 创建 Kafka 生产者
func NewKafkaPublisher(cfg *config.KafkaConfig) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 生产者失败: %w", err)
	}
	log.WithField("brokers", cfg.Brokers).Info("Kafka 生产者创建成功")
	return NewKafkaPublisherWithProducer(producer), nil
}

// ProducerConfig 等待所有副本确认，失败重试 3 次
func ProducerConfig() *sarama.Config {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true
	return kafkaConfig
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

// Publish 同步发送一条消息，key 相同的消息落在同一分区
func (p *KafkaPublisher) Publish(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}

	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *KafkaPublisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
