package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/hunger-risk-pipeline/internal/config"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/domain"
)

// Writer publishes predictions to the early-warning topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured prediction topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish serializes one prediction and writes it keyed by unit code, so a
// unit's predictions stay ordered within a partition.
func (w *Writer) Publish(ctx context.Context, pred domain.PredictionRecord) error {
	msg, err := serializeToMessage(pred)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish prediction %s: %w", pred.UnitCode, err)
	}
	w.logger.Debug("prediction published", "unit_code", pred.UnitCode, "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a PredictionRecord into a Kafka message.
func serializeToMessage(pred domain.PredictionRecord) (kafkago.Message, error) {
	data, err := json.Marshal(pred)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize prediction: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(pred.UnitCode),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "risk_level", Value: []byte(pred.RiskLevel)},
			{Key: "ipc_phase", Value: []byte(strconv.Itoa(int(pred.Phase)))},
			{Key: "target_month", Value: []byte(pred.TargetMonth.Format("2006-01"))},
			{Key: "model_version", Value: []byte(pred.ModelVersion)},
			{Key: "predicted_at", Value: []byte(pred.PredictionDate.Format(time.RFC3339))},
		},
	}, nil
}
