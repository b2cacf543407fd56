package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zwoods58/WebApp-sub006/internal/model"
)

// MessageProducer is satisfied by client.KafkaProducer.
type MessageProducer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Execer is satisfied by client.ClickHouseClient.
type Execer interface {
	Exec(ctx context.Context, query string, args ...any) error
}

// DocumentIndexer is satisfied by client.ESClient.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, index, id string, document any) error
}

// KafkaSink publishes events as JSON keyed by user id, so one user's events
// stay ordered within a partition.
type KafkaSink struct {
	producer MessageProducer
	topic    string
}

func NewKafkaSink(producer MessageProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Write(ctx context.Context, event *model.AuditEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	key := event.UserID
	if key == "" {
		key = event.ID
	}
	return k.producer.ProduceMessage(ctx, k.topic, []byte(key), value, map[string]string{
		"event_type": string(event.Type),
	})
}

type ClickHouseSink struct {
	conn  Execer
	table string
}

func NewClickHouseSink(conn Execer, table string) *ClickHouseSink {
	return &ClickHouseSink{conn: conn, table: table}
}

func (c *ClickHouseSink) Name() string { return "clickhouse" }

func (c *ClickHouseSink) Write(ctx context.Context, event *model.AuditEvent) error {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, event_type, user_id, phone, ip, user_agent, country, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, c.table)
	return c.conn.Exec(ctx, query,
		event.ID, string(event.Type), event.UserID, event.Phone, event.IP,
		event.UserAgent, event.Country, metadata, event.CreatedAt)
}

type ElasticsearchSink struct {
	indexer DocumentIndexer
	index   string
}

func NewElasticsearchSink(indexer DocumentIndexer, index string) *ElasticsearchSink {
	return &ElasticsearchSink{indexer: indexer, index: index}
}

func (e *ElasticsearchSink) Name() string { return "elasticsearch" }

func (e *ElasticsearchSink) Write(ctx context.Context, event *model.AuditEvent) error {
	return e.indexer.IndexDocument(ctx, e.index, event.ID, event)
}
