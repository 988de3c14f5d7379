package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/niikun/social-listening/internal/model"
)

// Event types written to the runs topic
const (
	TypeRunCompleted = "run.completed"
	TypeAnswer       = "run.answer"
)

// Config holds Kafka settings
type Config struct {
	Brokers []string
	Topic   string
}

// RunEvent summarizes a finished run for downstream consumers
type RunEvent struct {
	Type       string          `json:"type"`
	RunID      string          `json:"run_id"`
	Question   string          `json:"question"`
	Status     model.RunStatus `json:"status"`
	Personas   int             `json:"personas"`
	Totals     model.RunTotals `json:"totals"`
	SearchMode string          `json:"search_mode"`
	Provider   string          `json:"provider"`
	ModelName  string          `json:"model_name"`
	Error      string          `json:"error,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// AnswerEvent carries one persona record of a finished run
type AnswerEvent struct {
	Type      string             `json:"type"`
	RunID     string             `json:"run_id"`
	PersonaID string             `json:"persona_id"`
	Index     int                `json:"index"`
	Status    model.AnswerStatus `json:"status"`
	Rating    *int               `json:"rating,omitempty"`
	Sentiment string             `json:"sentiment,omitempty"`
	Rationale string             `json:"rationale,omitempty"`
	CostUSD   float64            `json:"cost_usd"`
	Timestamp time.Time          `json:"timestamp"`
}

// Producer publishes run lifecycle events to Kafka
type Producer struct {
	writer *kafka.Writer
	topic  string
	logger *zap.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger *zap.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &Producer{
		writer: writer,
		topic:  cfg.Topic,
		logger: logger.Named("kafka"),
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishRun writes the run summary followed by one message per record,
// all keyed by run ID so they land on one partition in order
func (p *Producer) PublishRun(ctx context.Context, run *model.SurveyRun) error {
	ctx, span := otel.Tracer("social-listening/events").Start(ctx, "Kafka.PublishRun")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("run_id", run.ID),
		attribute.Int("messaging.batch_size", len(run.Records)+1),
	)

	msgs, err := runMessages(ctx, run, time.Now().UTC())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal run")
		return err
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish run")
		p.logger.Error("failed to publish run", zap.String("run_id", run.ID), zap.String("topic", p.topic), zap.Error(err))
		return err
	}

	span.SetStatus(codes.Ok, "run published")
	p.logger.Debug("published run", zap.String("run_id", run.ID), zap.Int("messages", len(msgs)))
	return nil
}

// Stats returns producer statistics
func (p *Producer) Stats() kafka.WriterStats {
	return p.writer.Stats()
}

func runMessages(ctx context.Context, run *model.SurveyRun, now time.Time) ([]kafka.Message, error) {
	headers := traceHeaders(ctx)
	key := []byte(run.ID)

	summary := RunEvent{
		Type:       TypeRunCompleted,
		RunID:      run.ID,
		Question:   run.Question.Text,
		Status:     run.Status,
		Personas:   len(run.Personas),
		Totals:     run.Totals,
		SearchMode: string(run.SearchMode),
		Provider:   run.Provider,
		ModelName:  run.ModelName,
		Error:      run.Error,
		Timestamp:  now,
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run event: %w", err)
	}

	msgs := make([]kafka.Message, 0, len(run.Records)+1)
	msgs = append(msgs, kafka.Message{
		Key:     key,
		Value:   data,
		Headers: append(headers, kafka.Header{Key: "type", Value: []byte(TypeRunCompleted)}),
	})

	for _, rec := range run.Records {
		ev := AnswerEvent{
			Type:      TypeAnswer,
			RunID:     run.ID,
			PersonaID: rec.PersonaID,
			Index:     rec.Index,
			Status:    rec.Status,
			CostUSD:   rec.CostUSD,
			Timestamp: now,
		}
		if rec.Parsed != nil {
			ev.Rating = rec.Parsed.Rating
			ev.Sentiment = rec.Parsed.Sentiment
			ev.Rationale = rec.Parsed.Rationale
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal answer event %d: %w", rec.Index, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:     key,
			Value:   data,
			Headers: append(headers, kafka.Header{Key: "type", Value: []byte(TypeAnswer)}),
		})
	}
	return msgs, nil
}

func traceHeaders(ctx context.Context) []kafka.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := make([]kafka.Header, 0, len(carrier))
	for _, k := range carrier.Keys() {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(carrier.Get(k))})
	}
	return headers
}
