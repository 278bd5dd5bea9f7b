package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/DRSN-tech/visual-search/internal/cfg"
	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/google/uuid"
	"github.com/jimlawless/whereami"
	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// EventImageIndexed тип события о новом изображении в индексе.
const EventImageIndexed = "image_indexed"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer публикует события об изображениях, зафиксированных в индексе.
// Ключ сообщения — item_id, поэтому события одного товара попадают в одну партицию.
type Producer struct {
	writer messageWriter
	logger logger.Logger
	cfg    *cfg.KafkaCfg
}

func NewProducer(logger logger.Logger, cfg *cfg.KafkaCfg) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 500 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warnf("Kafka producer error: %s", err.Error())
			}
		},
	}

	return &Producer{
		writer: writer,
		logger: logger,
		cfg:    cfg,
	}
}

// OnIndexed отправляет по одному событию на изображение.
func (p *Producer) OnIndexed(ctx context.Context, method string, images []domain.IndexedImage) error {
	if len(images) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(images))
	for _, img := range images {
		value, err := GetPayloadBytes(method, img)
		if err != nil {
			return e.Wrap(whereami.WhereAmI(), err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(img.Record.ItemID),
			Value: value,
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	return nil
}

func (p *Producer) EnsureTopic(timeout time.Duration) error {
	conn, err := kafka.Dial(p.cfg.NetworkMode, p.cfg.Brokers[0])
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(p.cfg.Topic)
	if err == nil && len(partitions) > 0 {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		err := conn.CreateTopics(kafka.TopicConfig{
			Topic:             p.cfg.Topic,
			NumPartitions:     p.cfg.Partitions,
			ReplicationFactor: p.cfg.ReplicationFactor,
		})
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return e.Wrap(whereami.WhereAmI(), fmt.Errorf("failed to create topic %s: %w", p.cfg.Topic, err))
		}
		return nil
	case <-time.After(timeout):
		_ = conn.Close()
		return e.Wrap(whereami.WhereAmI(), fmt.Errorf("timeout: %v, topic: %s", timeout, p.cfg.Topic))
	}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// GetPayloadBytes сериализует событие в protobuf (google.protobuf.Struct).
func GetPayloadBytes(method string, img domain.IndexedImage) ([]byte, error) {
	vector := make([]*structpb.Value, 0, len(img.Vector))
	for _, v := range img.Vector {
		vector = append(vector, structpb.NewNumberValue(float64(v)))
	}

	event := &structpb.Struct{Fields: map[string]*structpb.Value{
		"event_id":        structpb.NewStringValue(uuid.NewString()),
		"event_type":      structpb.NewStringValue(EventImageIndexed),
		"event_timestamp": structpb.NewNumberValue(float64(time.Now().UnixMilli())),
		"method":          structpb.NewStringValue(method),
		"position":        structpb.NewNumberValue(float64(img.Record.Position)),
		"image_id":        structpb.NewStringValue(img.Record.ImageID),
		"item_id":         structpb.NewStringValue(img.Record.ItemID),
		"image_path":      structpb.NewStringValue(img.Record.ImagePath),
		"vector":          structpb.NewListValue(&structpb.ListValue{Values: vector}),
	}}

	return proto.Marshal(event)
}
