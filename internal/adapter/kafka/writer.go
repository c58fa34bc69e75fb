package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/weather-etl/internal/config"
	"github.com/couchcryptid/weather-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces weather records to a Kafka topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Name identifies the sink in logs and run results.
func (w *Writer) Name() string {
	return "kafka:" + w.writer.Topic
}

// Publish serializes a record and writes it to the sink topic, keyed by city.
func (w *Writer) Publish(ctx context.Context, rec domain.WeatherRecord) error {
	msg, err := serializeToMessage(rec)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish weather record: %w", err)
	}
	w.logger.Debug("weather record published", "topic", w.writer.Topic, "city", rec.City)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a WeatherRecord into a Kafka message.
func serializeToMessage(rec domain.WeatherRecord) (kafkago.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize weather record: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(rec.City),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "city", Value: []byte(rec.City)},
			{Key: "time_of_record", Value: []byte(rec.TimeOfRecord.Format(time.RFC3339))},
		},
	}, nil
}
