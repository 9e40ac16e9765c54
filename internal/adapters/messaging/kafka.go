package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/google/uuid"
)

// KafkaMessaging реализация MessagingPort с использованием Kafka
type KafkaMessaging struct {
	producer        *kafka.Producer
	consumers       map[string]*kafka.Consumer
	consumersMutex  sync.RWMutex
	handlers        map[string]map[string]interfaces.MessageHandler // topic -> handlerID -> handler
	handlersMutex   sync.RWMutex
	brokers         string
	groupID         string
	deadLetterTopic string
	log             interfaces.LoggerPort
}

// NewKafkaMessaging создает новый экземпляр KafkaMessaging.
// Если deadLetterTopic пуст, сообщения с ошибками обработки только логируются
func NewKafkaMessaging(brokers []string, groupID, deadLetterTopic string, log interfaces.LoggerPort) (*KafkaMessaging, error) {
	bootstrapServers := strings.Join(brokers, ",")

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":            bootstrapServers,
		"client.id":                    "marketplace-service-producer",
		"acks":                         "all", // максимальная надежность
		"retries":                      5,
		"retry.backoff.ms":             500,
		"compression.type":             "snappy",
		"linger.ms":                    10,    // небольшая задержка для батчинга
		"batch.size":                   16384, // размер пакета в байтах
		"message.max.bytes":            1000000,
		"queue.buffering.max.messages": 100000, // размер внутреннего буфера
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Kafka producer: %w", err)
	}

	return &KafkaMessaging{
		producer:        producer,
		consumers:       make(map[string]*kafka.Consumer),
		consumersMutex:  sync.RWMutex{},
		handlers:        make(map[string]map[string]interfaces.MessageHandler),
		handlersMutex:   sync.RWMutex{},
		brokers:         bootstrapServers,
		groupID:         groupID,
		deadLetterTopic: deadLetterTopic,
		log:             log,
	}, nil
}

// messageToKafkaMessage преобразует Message в kafka.Message
func messageToKafkaMessage(topic string, message []byte, key string, headers map[string]string) *kafka.Message {
	var kafkaHeaders []kafka.Header
	for k, v := range headers {
		kafkaHeaders = append(kafkaHeaders, kafka.Header{
			Key:   k,
			Value: []byte(v),
		})
	}

	// Добавляем служебные заголовки
	kafkaHeaders = append(kafkaHeaders,
		kafka.Header{Key: "message_id", Value: []byte(uuid.New().String())},
		kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339Nano))},
	)

	var keyBytes []byte
	if key != "" {
		keyBytes = []byte(key)
	}

	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          message,
		Key:            keyBytes,
		Headers:        kafkaHeaders,
	}
}

// kafkaMessageToMessage преобразует kafka.Message в Message
func kafkaMessageToMessage(msg *kafka.Message) *interfaces.Message {
	headers := make(map[string]string)
	for _, header := range msg.Headers {
		headers[header.Key] = string(header.Value)
	}

	var key string
	if msg.Key != nil {
		key = string(msg.Key)
	}

	// Извлекаем tenant_id из заголовков, если есть
	tenantID := headers["tenant_id"]

	// Извлекаем время публикации из заголовков
	publishedAt := time.Now()
	if tsStr, ok := headers["timestamp"]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, tsStr); err == nil {
			publishedAt = ts
		}
	}

	return &interfaces.Message{
		ID:          headers["message_id"],
		Topic:       *msg.TopicPartition.Topic,
		Key:         key,
		Value:       msg.Value,
		Headers:     headers,
		TenantID:    tenantID,
		PublishedAt: publishedAt,
	}
}

// Publish публикует сообщение в указанную тему
func (k *KafkaMessaging) Publish(ctx context.Context, topic string, message []byte) error {
	msg := messageToKafkaMessage(topic, message, "", nil)
	return k.producer.Produce(msg, nil)
}

// PublishWithHeaders публикует сообщение с ключом и дополнительными заголовками
func (k *KafkaMessaging) PublishWithHeaders(ctx context.Context, topic, key string, message []byte, headers map[string]string) error {
	msg := messageToKafkaMessage(topic, message, key, headers)
	return k.producer.Produce(msg, nil)
}

// PublishForTenant публикует сообщение с ключом арендатора. Ключ гарантирует,
// что события одного арендатора попадут в одну партицию и сохранят порядок
func (k *KafkaMessaging) PublishForTenant(ctx context.Context, topic string, message []byte, tenantID string) error {
	headers := map[string]string{"tenant_id": tenantID}
	return k.PublishWithHeaders(ctx, topic, tenantID, message, headers)
}

// Subscribe подписывается на указанную тему с групповым ID по умолчанию
func (k *KafkaMessaging) Subscribe(ctx context.Context, topic string, handler interfaces.MessageHandler) (func() error, error) {
	return k.SubscribeGroup(ctx, topic, k.groupID, handler)
}

// SubscribeGroup подписывается на тему в составе указанной группы потребителей
// и обрабатывает сообщения с помощью handler
func (k *KafkaMessaging) SubscribeGroup(ctx context.Context, topic, groupID string, handler interfaces.MessageHandler) (func() error, error) {
	config := &interfaces.ConsumerConfig{
		GroupID:            groupID,
		AutoCommit:         true,
		AutoCommitInterval: 5 * time.Second,
		MaxPollRecords:     500,
		PollTimeout:        100 * time.Millisecond,
	}
	return k.subscribeWithConfig(ctx, topic, handler, config)
}

// subscribeWithConfig подписывается на указанную тему с дополнительными настройками
func (k *KafkaMessaging) subscribeWithConfig(ctx context.Context, topic string, handler interfaces.MessageHandler, config *interfaces.ConsumerConfig) (func() error, error) {
	// Создаем уникальный ID для обработчика
	handlerID := uuid.New().String()

	// Регистрируем обработчик
	k.handlersMutex.Lock()
	if _, ok := k.handlers[topic]; !ok {
		k.handlers[topic] = make(map[string]interfaces.MessageHandler)
	}
	k.handlers[topic][handlerID] = handler
	k.handlersMutex.Unlock()

	// Создаем конфигурацию потребителя. auto.offset.reset = earliest, чтобы
	// не терять команды, отправленные до первого старта группы
	kafkaConfig := &kafka.ConfigMap{
		"bootstrap.servers":                  k.brokers,
		"group.id":                           config.GroupID,
		"auto.offset.reset":                  "earliest",
		"enable.auto.commit":                 config.AutoCommit,
		"auto.commit.interval.ms":            int(config.AutoCommitInterval.Milliseconds()),
		"session.timeout.ms":                 30000,
		"max.poll.interval.ms":               300000,
		"heartbeat.interval.ms":              3000,
		"fetch.min.bytes":                    1,
		"fetch.wait.max.ms":                  500,
		"topic.metadata.refresh.interval.ms": 300000,
		"reconnect.backoff.ms":               50,
		"reconnect.backoff.max.ms":           10000,
	}

	// Создаем потребителя
	consumer, err := kafka.NewConsumer(kafkaConfig)
	if err != nil {
		k.handlersMutex.Lock()
		delete(k.handlers[topic], handlerID)
		k.handlersMutex.Unlock()
		return nil, fmt.Errorf("ошибка создания Kafka consumer: %w", err)
	}

	// Подписываемся на топик
	err = consumer.Subscribe(topic, nil)
	if err != nil {
		k.handlersMutex.Lock()
		delete(k.handlers[topic], handlerID)
		k.handlersMutex.Unlock()
		consumer.Close()
		return nil, fmt.Errorf("ошибка подписки на топик %s: %w", topic, err)
	}

	k.consumersMutex.Lock()
	k.consumers[handlerID] = consumer
	k.consumersMutex.Unlock()

	// обработка сообщений в отдельной горутине
	go k.consumeMessages(ctx, consumer, topic, handlerID, config)

	// функция для отмены подписки
	unsubscribe := func() error {
		k.handlersMutex.Lock()
		delete(k.handlers[topic], handlerID)
		k.handlersMutex.Unlock()

		k.consumersMutex.Lock()
		consumer := k.consumers[handlerID]
		delete(k.consumers, handlerID)
		k.consumersMutex.Unlock()

		if consumer != nil {
			return consumer.Close()
		}
		return nil
	}

	return unsubscribe, nil
}

// consumeMessages обрабатывает сообщения из Kafka
func (k *KafkaMessaging) consumeMessages(ctx context.Context, consumer *kafka.Consumer, topic, handlerID string, config *interfaces.ConsumerConfig) {
	for {
		select {
		case <-ctx.Done():
			// Контекст отменен, завершаем обработку
			return
		default:
			// Читаем сообщение с таймаутом
			ev := consumer.Poll(int(config.PollTimeout.Milliseconds()))
			if ev == nil {
				continue
			}

			switch e := ev.(type) {
			case *kafka.Message:
				// Преобразуем сообщение
				msg := kafkaMessageToMessage(e)

				// Получаем обработчик
				k.handlersMutex.RLock()
				handlers, ok := k.handlers[topic]
				if !ok {
					k.handlersMutex.RUnlock()
					continue
				}
				handler, ok := handlers[handlerID]
				k.handlersMutex.RUnlock()
				if !ok {
					continue
				}

				// Обрабатываем сообщение; при ошибке отправляем в dead letter
				if err := handler(ctx, msg); err != nil {
					k.log.ErrorWithContext(ctx, "ошибка обработки сообщения Kafka",
						interfaces.LogField{Key: "topic", Value: topic},
						interfaces.LogField{Key: "message_id", Value: msg.ID},
						interfaces.LogField{Key: "error", Value: err.Error()},
					)
					k.sendToDeadLetter(ctx, msg, err)
					continue
				}

				// Подтверждаем обработку сообщения, если ручной режим
				if !config.AutoCommit {
					if _, err := consumer.CommitMessage(e); err != nil {
						k.log.ErrorWithContext(ctx, "ошибка подтверждения сообщения Kafka",
							interfaces.LogField{Key: "topic", Value: topic},
							interfaces.LogField{Key: "error", Value: err.Error()},
						)
					}
				}

			case kafka.Error:
				k.log.ErrorWithContext(ctx, "ошибка Kafka consumer",
					interfaces.LogField{Key: "topic", Value: topic},
					interfaces.LogField{Key: "code", Value: e.Code().String()},
					interfaces.LogField{Key: "error", Value: e.Error()},
				)
				if e.Code() == kafka.ErrAllBrokersDown {
					// Критическая ошибка, завершаем обработку
					return
				}

			case kafka.PartitionEOF:
				// Достигнут конец партиции, это нормальная ситуация

			default:
				// Другие события Kafka не интересны
			}
		}
	}
}

// sendToDeadLetter отправляет необработанное сообщение в dead letter topic
// вместе с причиной ошибки в заголовках
func (k *KafkaMessaging) sendToDeadLetter(ctx context.Context, msg *interfaces.Message, handlerErr error) {
	if k.deadLetterTopic == "" {
		return
	}

	headers := map[string]string{
		"original_topic": msg.Topic,
		"error":          handlerErr.Error(),
	}
	if msg.TenantID != "" {
		headers["tenant_id"] = msg.TenantID
	}

	dlqMsg := messageToKafkaMessage(k.deadLetterTopic, msg.Value, msg.Key, headers)
	if err := k.producer.Produce(dlqMsg, nil); err != nil {
		k.log.ErrorWithContext(ctx, "не удалось отправить сообщение в dead letter topic",
			interfaces.LogField{Key: "topic", Value: k.deadLetterTopic},
			interfaces.LogField{Key: "message_id", Value: msg.ID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}
}

// CreateTopic создает новую тему с указанным числом партиций и фактором
// репликации. Существующая тема не считается ошибкой
func (k *KafkaMessaging) CreateTopic(ctx context.Context, topic string, partitions int, replicationFactor int) error {
	// Создание админ клиента
	adminClient, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": k.brokers,
	})
	if err != nil {
		return fmt.Errorf("ошибка создания Kafka admin client: %w", err)
	}
	defer adminClient.Close()

	// Создание топика
	topicConfig := []kafka.TopicSpecification{
		{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: replicationFactor,
		},
	}

	// Установка таймаута операции
	options := kafka.SetAdminOperationTimeout(30 * time.Second)

	// Выполнение операции создания
	result, err := adminClient.CreateTopics(ctx, topicConfig, options)
	if err != nil {
		return fmt.Errorf("ошибка создания топика %s: %w", topic, err)
	}

	// Проверка результата
	for _, r := range result {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("ошибка создания топика %s: %s", r.Topic, r.Error.String())
		}
	}

	return nil
}

// Close закрывает соединение с системой обмена сообщениями
func (k *KafkaMessaging) Close() error {
	// Закрываем все потребители
	k.consumersMutex.Lock()
	for id, consumer := range k.consumers {
		consumer.Close()
		delete(k.consumers, id)
	}
	k.consumersMutex.Unlock()

	// Закрываем producer
	k.producer.Flush(15 * 1000) // Ждем до 15 секунд для отправки всех сообщений
	k.producer.Close()

	return nil
}
