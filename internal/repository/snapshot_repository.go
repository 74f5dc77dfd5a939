package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"TaPull/internal/domain/models"
	"TaPull/internal/domain/repository"
	pkgkafka "TaPull/pkg/kafka"
)

// snapshotSchema creates the archive table. Values are stored as a JSON map
// column so indicator additions never need a migration.
func snapshotSchema(table string) []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts DateTime64(3),
		symbol String,
		interval String,
		exchange String,
		source String,
		real_count UInt16,
		values_json String
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(ts)
	ORDER BY (symbol, interval, ts)`, table)}
}

// ClickHouseStorage implements Storage for ClickHouse.
type ClickHouseStorage struct {
	db     *sql.DB
	table  string
	schema []string
}

// NewClickHouseStorage creates ClickHouse snapshot storage.
func NewClickHouseStorage(db *sql.DB, table string) repository.Storage {
	return &ClickHouseStorage{db: db, table: table, schema: snapshotSchema(table)}
}

func (s *ClickHouseStorage) Init(ctx context.Context) error {
	for _, stmt := range s.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init snapshot schema: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseStorage) Store(ctx context.Context, snap *models.IndicatorSnapshot) error {
	values, err := json.Marshal(snap.Values)
	if err != nil {
		return fmt.Errorf("marshal values: %w", err)
	}
	q := fmt.Sprintf("INSERT INTO %s (ts, symbol, interval, exchange, source, real_count, values_json) VALUES (?, ?, ?, ?, ?, ?, ?)", s.table)
	_, err = s.db.ExecContext(ctx, q,
		snap.Timestamp,
		snap.Symbol,
		snap.Interval,
		snap.Exchange,
		string(snap.Source),
		uint16(snap.RealIndicatorCount),
		string(values),
	)
	return err
}

func (s *ClickHouseStorage) StoreBatch(ctx context.Context, snaps []*models.IndicatorSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	// Multi-row VALUES insert to reduce round-trips; 2000 rows per chunk.
	const chunkSize = 2000
	for start := 0; start < len(snaps); start += chunkSize {
		end := start + chunkSize
		if end > len(snaps) {
			end = len(snaps)
		}

		rows := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*7)
		for _, snap := range snaps[start:end] {
			if snap == nil || snap.Symbol == "" {
				continue
			}
			values, err := json.Marshal(snap.Values)
			if err != nil {
				continue
			}
			rows = append(rows, "(?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				snap.Timestamp,
				snap.Symbol,
				snap.Interval,
				snap.Exchange,
				string(snap.Source),
				uint16(snap.RealIndicatorCount),
				string(values),
			)
		}
		if len(rows) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (ts, symbol, interval, exchange, source, real_count, values_json) VALUES %s", s.table, strings.Join(rows, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}
	return nil
}

func (s *ClickHouseStorage) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.IndicatorSnapshot, error) {
	q := fmt.Sprintf("SELECT ts, symbol, interval, exchange, source, real_count, values_json FROM %s WHERE symbol = ? AND ts >= ? AND ts <= ? ORDER BY ts DESC LIMIT ?", s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*models.IndicatorSnapshot
	for rows.Next() {
		var (
			snap      models.IndicatorSnapshot
			source    string
			realCount uint16
			valuesRaw string
		)
		if err := rows.Scan(&snap.Timestamp, &snap.Symbol, &snap.Interval, &snap.Exchange, &source, &realCount, &valuesRaw); err != nil {
			return nil, err
		}
		snap.Source = models.SnapshotSource(source)
		snap.RealIndicatorCount = int(realCount)
		if err := json.Unmarshal([]byte(valuesRaw), &snap.Values); err != nil {
			return nil, fmt.Errorf("unmarshal values: %w", err)
		}
		snaps = append(snaps, &snap)
	}
	return snaps, rows.Err()
}

func (s *ClickHouseStorage) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseStorage) Close() error {
	return nil // Connection pool managed by pkg/clickhouse
}

// KafkaPublisher implements Publisher for Kafka. Snapshots are keyed by
// symbol so per-symbol ordering survives partitioning.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaPublisher creates a Kafka snapshot publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) repository.Publisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, snap *models.IndicatorSnapshot) error {
	return p.producer.Publish(ctx, p.topic, []byte(snap.Symbol), snap)
}

func (p *KafkaPublisher) PublishBatch(ctx context.Context, snaps []*models.IndicatorSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(snaps))
	for i, snap := range snaps {
		msgs[i] = pkgkafka.Message{Key: []byte(snap.Symbol), Value: snap}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NoopBackend satisfies both Publisher and Storage when backend is "none".
type NoopBackend struct{}

func (NoopBackend) Publish(context.Context, *models.IndicatorSnapshot) error        { return nil }
func (NoopBackend) PublishBatch(context.Context, []*models.IndicatorSnapshot) error { return nil }
func (NoopBackend) Init(context.Context) error                                      { return nil }
func (NoopBackend) Store(context.Context, *models.IndicatorSnapshot) error          { return nil }
func (NoopBackend) StoreBatch(context.Context, []*models.IndicatorSnapshot) error   { return nil }
func (NoopBackend) Query(context.Context, string, time.Time, time.Time, int) ([]*models.IndicatorSnapshot, error) {
	return nil, nil
}
func (NoopBackend) Health(context.Context) error { return nil }
func (NoopBackend) Close() error                 { return nil }
