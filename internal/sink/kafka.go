package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"rescueops-hub/internal/fleet"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWriter streams audit events and agent states to one topic, keyed by
// agent id so a consumer sees each agent's events in order. The "kind"
// header tells the two apart.
type KafkaWriter struct {
	w messageWriter
}

// NewKafkaWriter returns a writer producing to topic.
func NewKafkaWriter(brokers []string, topic string) *KafkaWriter {
	return &KafkaWriter{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

func (k *KafkaWriter) send(ctx context.Context, kind, key string, ts time.Time, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:     []byte(key),
		Value:   b,
		Time:    ts,
		Headers: []kafka.Header{{Key: "kind", Value: []byte(kind)}},
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka produce %s: %w", kind, err)
	}
	return nil
}

// WriteAudit publishes an audit event.
func (k *KafkaWriter) WriteAudit(ctx context.Context, ev fleet.AuditEvent) error {
	return k.send(ctx, "audit", ev.AgentID, ev.Timestamp, ev)
}

// WriteAgent publishes an agent state.
func (k *KafkaWriter) WriteAgent(ctx context.Context, st fleet.AgentState) error {
	return k.send(ctx, "agent", st.AgentID, st.LastUpdated, st)
}

// Close flushes pending messages.
func (k *KafkaWriter) Close() error {
	return k.w.Close()
}
