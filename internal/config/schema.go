package config

import "time"

// Config is the top-level YAML structure.
type Config struct {
	Version     string          `yaml:"version" json:"version" validate:"required"`
	Engine      EngineConf      `yaml:"engine" json:"engine"`
	Normalizer  NormalizerConf  `yaml:"normalizer" json:"normalizer"`
	Features    FeaturesConf    `yaml:"features" json:"features"`
	Scoring     ScoringConf     `yaml:"scoring" json:"scoring"`
	Correlation CorrelationConf `yaml:"correlation" json:"correlation"`
	Rules       []Rule          `yaml:"rules" json:"rules" validate:"dive"`
	Sigma       SigmaConf       `yaml:"sigma" json:"sigma"`
	History     HistoryConf     `yaml:"history" json:"history"`
	Sources     SourcesConf     `yaml:"sources" json:"sources"`
	Sinks       SinksConf       `yaml:"sinks" json:"sinks"`
}

// EngineConf holds concurrency settings. Startup-only.
type EngineConf struct {
	Workers      int           `yaml:"workers" json:"workers" validate:"min=1"`
	QueueDepth   int           `yaml:"queue_depth" json:"queue_depth" validate:"min=1"`
	MaxBatch     int           `yaml:"max_batch" json:"max_batch" validate:"min=1"`
	EventTimeout time.Duration `yaml:"event_timeout" json:"event_timeout" validate:"gt=0"`
}

// NormalizerConf configures default origin and additional entity kinds.
type NormalizerConf struct {
	DefaultSource string       `yaml:"default_source" json:"default_source"`
	Entities      []EntityConf `yaml:"entities" json:"entities" validate:"dive"`
}

// EntityConf extracts one entity kind from the first present field.
type EntityConf struct {
	Kind   string   `yaml:"kind" json:"kind" validate:"required,entity_kind"`
	Fields []string `yaml:"fields" json:"fields" validate:"min=1,dive,required"`
}

// FeaturesConf configures the feature builder. Startup-only.
type FeaturesConf struct {
	HistoryWindow    time.Duration `yaml:"history_window" json:"history_window" validate:"gt=0"`
	HistoryMaxKeep   int           `yaml:"history_max_keep" json:"history_max_keep" validate:"min=1"`
	EventTypeBuckets int           `yaml:"event_type_buckets" json:"event_type_buckets" validate:"min=1"`
	NightStartHour   int           `yaml:"night_start_hour" json:"night_start_hour" validate:"min=0,max=23"`
	NightEndHour     int           `yaml:"night_end_hour" json:"night_end_hour" validate:"min=0,max=23"`
}

// ScoringConf configures providers and the combiner. Hot-reloadable except Anomaly.
type ScoringConf struct {
	Weights      WeightsConf    `yaml:"weights" json:"weights"`
	AnomalyScale float64        `yaml:"anomaly_scale" json:"anomaly_scale" validate:"gt=0"`
	Thresholds   ThresholdsConf `yaml:"thresholds" json:"thresholds"`
	TopFeatures  int            `yaml:"top_features" json:"top_features" validate:"min=0,max=50"`
	Timeouts     TimeoutsConf   `yaml:"timeouts" json:"timeouts"`
	Supervised   SupervisedConf `yaml:"supervised" json:"supervised"`
	Anomaly      AnomalyConf    `yaml:"anomaly" json:"anomaly"`
}

// WeightsConf holds w1 (supervised) and w2 (anomaly). Their sum must not exceed 1.
type WeightsConf struct {
	Supervised float64 `yaml:"supervised" json:"supervised" validate:"min=0,max=1"`
	Anomaly    float64 `yaml:"anomaly" json:"anomaly" validate:"min=0,max=1"`
}

// ThresholdsConf holds inclusive lower bounds for each bucket.
type ThresholdsConf struct {
	Critical float64 `yaml:"critical" json:"critical" validate:"gt=0,lte=1"`
	High     float64 `yaml:"high" json:"high" validate:"gt=0,lte=1"`
	Medium   float64 `yaml:"medium" json:"medium" validate:"gt=0,lte=1"`
}

// TimeoutsConf bounds each provider call.
type TimeoutsConf struct {
	Supervised time.Duration `yaml:"supervised" json:"supervised" validate:"gt=0"`
	Anomaly    time.Duration `yaml:"anomaly" json:"anomaly" validate:"gt=0"`
	Rules      time.Duration `yaml:"rules" json:"rules" validate:"gt=0"`
}

// SupervisedConf selects the supervised provider: a local logistic model, or a remote endpoint when Endpoint is set.
type SupervisedConf struct {
	Endpoint string             `yaml:"endpoint" json:"endpoint" validate:"omitempty,url"`
	Headers  map[string]string  `yaml:"headers" json:"-"`
	Bias     float64            `yaml:"bias" json:"bias"`
	Weights  map[string]float64 `yaml:"weights" json:"weights"`
}

// AnomalyConf configures the rolling baseline. Startup-only.
type AnomalyConf struct {
	BaselineWindow time.Duration `yaml:"baseline_window" json:"baseline_window" validate:"gt=0"`
	MinSamples     int           `yaml:"min_samples" json:"min_samples" validate:"min=1"`
	MaxSamples     int           `yaml:"max_samples" json:"max_samples" validate:"min=1"`
}

// CorrelationConf configures the incident correlator.
type CorrelationConf struct {
	Window        time.Duration `yaml:"window" json:"window" validate:"gt=0"`
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval" validate:"gt=0"`
	Shards        int           `yaml:"shards" json:"shards" validate:"min=1,max=4096"`
	RetainClosed  int           `yaml:"retain_closed" json:"retain_closed" validate:"min=0"`
}

// Rule is a weighted predicate evaluated by the rule engine.
type Rule struct {
	ID          string   `yaml:"id" json:"id" validate:"required"`
	Description string   `yaml:"description" json:"description"`
	Enabled     *bool    `yaml:"enabled" json:"enabled"`
	EventTypes  []string `yaml:"event_types" json:"event_types"` // empty = all
	Sources     []string `yaml:"sources" json:"sources"`         // empty = all
	Expression  string   `yaml:"expression" json:"expression" validate:"required"`
	Weight      float64  `yaml:"weight" json:"weight" validate:"min=-1,max=1"`
}

// IsEnabled treats a missing enabled flag as true.
func (r Rule) IsEnabled() bool { return r.Enabled == nil || *r.Enabled }

// SigmaConf loads Sigma detection rules; a match contributes the weight of the rule's level.
type SigmaConf struct {
	Path         string             `yaml:"path" json:"path"`
	LevelWeights map[string]float64 `yaml:"level_weights" json:"level_weights"`
}

// HistoryConf configures the recent scored-alert store behind the listing endpoint.
type HistoryConf struct {
	Backend  string    `yaml:"backend" json:"backend" validate:"oneof=memory redis"`
	Capacity int       `yaml:"capacity" json:"capacity" validate:"min=1"`
	Redis    RedisConf `yaml:"redis" json:"redis"`
}

// RedisConf addresses a Redis list.
type RedisConf struct {
	Addr         string        `yaml:"addr" json:"addr"`
	Password     string        `yaml:"password" json:"-"`
	DB           int           `yaml:"db" json:"db"`
	Key          string        `yaml:"key" json:"key"`
	BlockTimeout time.Duration `yaml:"block_timeout" json:"block_timeout"`
}

// SourcesConf configures optional pull-based inputs. Startup-only.
type SourcesConf struct {
	Redis RedisSourceConf `yaml:"redis" json:"redis"`
	Kafka KafkaSourceConf `yaml:"kafka" json:"kafka"`
}

// RedisSourceConf pops raw events from a Redis list.
type RedisSourceConf struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	RedisConf     `yaml:",inline"`
	BatchSize     int           `yaml:"batch_size" json:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
}

// KafkaSourceConf consumes raw events from a Kafka topic.
type KafkaSourceConf struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	Brokers       []string      `yaml:"brokers" json:"brokers"`
	Topic         string        `yaml:"topic" json:"topic"`
	GroupID       string        `yaml:"group_id" json:"group_id"`
	BatchSize     int           `yaml:"batch_size" json:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
}

// SinksConf configures where scored alerts and closed incidents are emitted. Startup-only.
type SinksConf struct {
	BatchSize     int            `yaml:"batch_size" json:"batch_size"`
	FlushInterval time.Duration  `yaml:"flush_interval" json:"flush_interval"`
	Buffer        int            `yaml:"buffer" json:"buffer"`
	File          FileSinkConf   `yaml:"file" json:"file"`
	HTTP          HTTPSinkConf   `yaml:"http" json:"http"`
	Kafka         KafkaSinkConf  `yaml:"kafka" json:"kafka"`
	ClickHouse    ClickHouseConf `yaml:"clickhouse" json:"clickhouse"`
}

// FileSinkConf writes JSON lines.
type FileSinkConf struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	AlertsPath    string `yaml:"alerts_path" json:"alerts_path"`
	IncidentsPath string `yaml:"incidents_path" json:"incidents_path"`
}

// HTTPSinkConf posts batches to a webhook.
type HTTPSinkConf struct {
	Enabled bool              `yaml:"enabled" json:"enabled"`
	URL     string            `yaml:"url" json:"url"`
	Timeout time.Duration     `yaml:"timeout" json:"timeout"`
	Headers map[string]string `yaml:"headers" json:"-"`
}

// KafkaSinkConf produces to one topic per record kind.
type KafkaSinkConf struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	Brokers        []string `yaml:"brokers" json:"brokers"`
	AlertsTopic    string   `yaml:"alerts_topic" json:"alerts_topic"`
	IncidentsTopic string   `yaml:"incidents_topic" json:"incidents_topic"`
}

// ClickHouseConf inserts into native-protocol tables.
type ClickHouseConf struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	Addr           []string      `yaml:"addr" json:"addr"`
	Database       string        `yaml:"database" json:"database"`
	Username       string        `yaml:"username" json:"username"`
	Password       string        `yaml:"password" json:"-"`
	AlertsTable    string        `yaml:"alerts_table" json:"alerts_table"`
	IncidentsTable string        `yaml:"incidents_table" json:"incidents_table"`
	DialTimeout    time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
}
