package config

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/gyaneshwarpardhi/aria/internal/condition"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

var entityKindPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("entity_kind", func(fl validator.FieldLevel) bool {
		return entityKindPattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks field constraints and the cross-field rules that struct tags cannot express:
//   - thresholds strictly descending: critical > high > medium
//   - supervised + anomaly weight ≤ 1
//   - unique rule ids and parsable rule expressions
//   - enabled sources and sinks carry their required addresses
//
// All problems are reported together.
func Validate(cfg *Config) error {
	var errs []string

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Sprintf("%s: failed %q (value %v)", fieldPath(fe.Namespace()), tagWithParam(fe), fe.Value()))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	s := cfg.Scoring
	th := s.Thresholds
	if !(th.Critical > th.High && th.High > th.Medium) {
		errs = append(errs, fmt.Sprintf("scoring.thresholds: must satisfy critical > high > medium (got %.3f, %.3f, %.3f)", th.Critical, th.High, th.Medium))
	}
	if sum := s.Weights.Supervised + s.Weights.Anomaly; sum > 1+1e-9 {
		errs = append(errs, fmt.Sprintf("scoring.weights: supervised + anomaly must be <= 1 (got %.3f)", sum))
	}
	for name, w := range s.Supervised.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			errs = append(errs, fmt.Sprintf("scoring.supervised.weights.%s: must be finite", name))
		}
	}

	ids := make(map[string]int)
	for i, r := range cfg.Rules {
		if r.ID == "" {
			continue
		}
		if prev, ok := ids[r.ID]; ok {
			errs = append(errs, fmt.Sprintf("duplicate rule id %q (rules[%d] and rules[%d])", r.ID, prev, i))
		} else {
			ids[r.ID] = i
		}
		if r.Expression != "" {
			if _, err := condition.Parse(r.Expression); err != nil {
				errs = append(errs, fmt.Sprintf("rule %s: expression %q: %v", r.ID, r.Expression, err))
			}
		}
	}

	kinds := make(map[string]bool)
	for _, e := range cfg.Normalizer.Entities {
		if kinds[e.Kind] {
			errs = append(errs, fmt.Sprintf("normalizer.entities: kind %q listed twice", e.Kind))
		}
		kinds[e.Kind] = true
	}

	for level, w := range cfg.Sigma.LevelWeights {
		if w < -1 || w > 1 {
			errs = append(errs, fmt.Sprintf("sigma.level_weights.%s: must be within [-1, 1]", level))
		}
	}

	errs = append(errs, validateIO(cfg)...)

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalid, strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateIO(cfg *Config) []string {
	var errs []string
	require := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, msg)
		}
	}
	if r := cfg.Sources.Redis; r.Enabled {
		require(r.Addr != "", "sources.redis.addr is required when enabled")
		require(r.Key != "", "sources.redis.key is required when enabled")
	}
	if k := cfg.Sources.Kafka; k.Enabled {
		require(len(k.Brokers) > 0, "sources.kafka.brokers is required when enabled")
		require(k.Topic != "", "sources.kafka.topic is required when enabled")
	}
	if cfg.History.Backend == "redis" {
		require(cfg.History.Redis.Addr != "", "history.redis.addr is required for the redis backend")
	}
	sk := cfg.Sinks
	if sk.File.Enabled {
		require(sk.File.AlertsPath != "" || sk.File.IncidentsPath != "", "sinks.file needs alerts_path or incidents_path")
	}
	if sk.HTTP.Enabled {
		require(sk.HTTP.URL != "", "sinks.http.url is required when enabled")
	}
	if sk.Kafka.Enabled {
		require(len(sk.Kafka.Brokers) > 0, "sinks.kafka.brokers is required when enabled")
		require(sk.Kafka.AlertsTopic != "" || sk.Kafka.IncidentsTopic != "", "sinks.kafka needs alerts_topic or incidents_topic")
	}
	if sk.ClickHouse.Enabled {
		require(len(sk.ClickHouse.Addr) > 0, "sinks.clickhouse.addr is required when enabled")
	}
	return errs
}

// fieldPath turns "Config.Scoring.Thresholds.High" into "Scoring.Thresholds.High".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func tagWithParam(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}
