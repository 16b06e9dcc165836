package sink

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/gyaneshwarpardhi/aria/internal/alert"
	"github.com/gyaneshwarpardhi/aria/internal/config"
	"github.com/gyaneshwarpardhi/aria/internal/correlate"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const alertsDDL = `CREATE TABLE IF NOT EXISTS %s (
	alert_id        String,
	timestamp       DateTime64(3, 'UTC'),
	source          LowCardinality(String),
	severity        LowCardinality(String),
	event_type      LowCardinality(String),
	entities        Map(String, String),
	supervised_prob Float64,
	anomaly_score   Float64,
	rule_boost      Float64,
	priority_score  Float64,
	priority_bucket LowCardinality(String),
	top_features    Array(String),
	degraded        Array(String)
) ENGINE = MergeTree
PARTITION BY toYYYYMMDD(timestamp)
ORDER BY (priority_bucket, timestamp, alert_id)`

const incidentsDDL = `CREATE TABLE IF NOT EXISTS %s (
	incident_id     String,
	created_at      DateTime64(3, 'UTC'),
	last_seen       DateTime64(3, 'UTC'),
	closed_at       Nullable(DateTime64(3, 'UTC')),
	priority_bucket LowCardinality(String),
	entities        Map(String, String),
	alert_ids       Array(String),
	alert_count     UInt32
) ENGINE = MergeTree
ORDER BY (created_at, incident_id)`

const alertColumns = "alert_id, timestamp, source, severity, event_type, entities, supervised_prob, anomaly_score, rule_boost, priority_score, priority_bucket, top_features, degraded"

const incidentColumns = "incident_id, created_at, last_seen, closed_at, priority_bucket, entities, alert_ids, alert_count"

// chConn is the subset of driver.Conn the sink uses.
type chConn interface {
	Exec(ctx context.Context, query string, args ...any) error
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	Close() error
}

// ClickHouse inserts scored alerts and closed incidents with native batches.
type ClickHouse struct {
	conn           chConn
	alertsTable    string
	incidentsTable string
}

// NewClickHouse connects, pings and creates the tables if needed.
func NewClickHouse(ctx context.Context, cfg config.ClickHouseConf) (*ClickHouse, error) {
	if len(cfg.Addr) == 0 {
		return nil, fmt.Errorf("clickhouse sink: no addr")
	}
	for _, t := range []string{cfg.AlertsTable, cfg.IncidentsTable} {
		if !identRe.MatchString(t) {
			return nil, fmt.Errorf("clickhouse sink: invalid table name %q", t)
		}
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionZSTD,
		},
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	c := &ClickHouse{conn: conn, alertsTable: cfg.AlertsTable, incidentsTable: cfg.IncidentsTable}
	if err := c.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// EnsureSchema creates both tables if they do not exist.
func (c *ClickHouse) EnsureSchema(ctx context.Context) error {
	for _, ddl := range []string{
		fmt.Sprintf(alertsDDL, c.alertsTable),
		fmt.Sprintf(incidentsDDL, c.incidentsTable),
	} {
		if err := c.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	return nil
}

// Name implements Writer.
func (c *ClickHouse) Name() string { return "clickhouse" }

// WriteAlerts implements Writer.
func (c *ClickHouse) WriteAlerts(ctx context.Context, alerts []*alert.Scored) error {
	if len(alerts) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(alerts))
	for _, a := range alerts {
		rows = append(rows, alertRow(a))
	}
	return c.insert(ctx, c.alertsTable, alertColumns, rows)
}

// WriteIncidents implements Writer.
func (c *ClickHouse) WriteIncidents(ctx context.Context, incidents []correlate.Snapshot) error {
	if len(incidents) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(incidents))
	for i := range incidents {
		rows = append(rows, incidentRow(&incidents[i]))
	}
	return c.insert(ctx, c.incidentsTable, incidentColumns, rows)
}

func (c *ClickHouse) insert(ctx context.Context, table, columns string, rows [][]any) error {
	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (%s)", table, columns))
	if err != nil {
		return fmt.Errorf("prepare batch %s: %w", table, err)
	}
	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			batch.Abort()
			return fmt.Errorf("append %s: %w", table, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch %s: %w", table, err)
	}
	return nil
}

// Close implements Writer.
func (c *ClickHouse) Close() error { return c.conn.Close() }

func alertRow(a *alert.Scored) []any {
	return []any{
		a.ID,
		a.Timestamp.UTC(),
		a.Source,
		string(a.Severity),
		a.EventType,
		nonNilMap(a.Entities),
		a.SupervisedProb,
		a.AnomalyScore,
		a.RuleBoost,
		a.PriorityScore,
		string(a.PriorityBucket),
		nonNilSlice(a.TopFeatures),
		nonNilSlice(a.Degraded),
	}
}

func incidentRow(s *correlate.Snapshot) []any {
	var closedAt *time.Time
	if s.ClosedAt != nil {
		t := s.ClosedAt.UTC()
		closedAt = &t
	}
	ids := s.AlertIDs()
	return []any{
		s.ID,
		s.CreatedAt.UTC(),
		s.LastSeen.UTC(),
		closedAt,
		string(s.PriorityBucket),
		nonNilMap(s.Entities),
		nonNilSlice(ids),
		uint32(len(ids)),
	}
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
