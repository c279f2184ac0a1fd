package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Consensus backends.
const (
	ConsensusLocal = "local"
	ConsensusRedis = "redis"
)

// Event publishers.
const (
	EventsNone      = "none"
	EventsGoChannel = "gochannel"
	EventsKafka     = "kafka"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// ConfigPaths are run files or directories of run files.
	ConfigPaths []string `validate:"min=1,dive,required"`
	// AddModules are files whose module blocks are appended to the run.
	AddModules []string
	// RemoveModules names modules dropped from the run.
	RemoveModules []string

	LogFormat  string `validate:"oneof=text json"`
	LogLevel   string `validate:"oneof=debug info warn error"`
	StatusPort int    `validate:"gte=0,lte=65535"`
	Workers    int    `validate:"gte=1"`

	RunID     string
	Rank      int    `validate:"gte=0,ltfield=Ranks"`
	Ranks     int    `validate:"gte=1"`
	Consensus string `validate:"oneof=local redis"`
	RedisURL  string `validate:"required_if=Consensus redis"`

	Events       string   `validate:"oneof=none gochannel kafka"`
	KafkaBrokers []string `validate:"required_if=Events kafka"`
	OTLP         bool

	S3Endpoint  string
	S3Region    string
	S3PathStyle bool

	// DOT writes the module graph in Graphviz format and exits.
	DOT bool
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// NewConfig validates cfg and returns a copy of it.
func NewConfig(cfg Config) (*Config, error) {
	if err := validate.Struct(&cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return nil, fmt.Errorf("invalid options: %s", strings.Join(msgs, "; "))
		}
		return nil, err
	}
	if cfg.Ranks > 1 && cfg.Consensus == ConsensusLocal {
		return nil, errors.New("a run with more than one rank needs the redis consensus")
	}
	return &cfg, nil
}
