package cli

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/vk/meshrun/internal/app"
	"github.com/vk/meshrun/internal/driver"
)

// Exit codes returned by the meshrun binary.
const (
	ExitFailure = 1
	ExitUsage   = 2
	ExitAborted = 130
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// AsExitError maps an application error to the exit code of the process.
// Configuration errors exit with ExitUsage and cancelled runs with
// ExitAborted.
func AsExitError(err error) *ExitError {
	var exitErr *ExitError
	switch {
	case errors.As(err, &exitErr):
		return exitErr
	case errors.Is(err, app.ErrConfig):
		return &ExitError{Code: ExitUsage, Message: err.Error()}
	case errors.Is(err, driver.ErrAborted):
		return &ExitError{Code: ExitAborted, Message: err.Error()}
	}
	return &ExitError{Code: ExitFailure, Message: err.Error()}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Run file or directory of run files. Repeatable; positional arguments are added too.",
			Sources: cli.EnvVars("MESHRUN_CONFIG"),
		},
		&cli.StringSliceFlag{
			Name:  "add-module",
			Usage: "File whose module blocks are appended to the run.",
		},
		&cli.StringSliceFlag{
			Name:  "remove-module",
			Usage: "Name of a module to drop from the run.",
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log output format (text, json)",
			Value:   "json",
			Sources: cli.EnvVars("MESHRUN_LOG_FORMAT"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("MESHRUN_LOG_LEVEL"),
		},
		&cli.IntFlag{
			Name:    "status-port",
			Usage:   "Port of the HTTP health and status server. 0 is disabled.",
			Sources: cli.EnvVars("MESHRUN_STATUS_PORT"),
		},
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "Number of modules of one chunk run concurrently.",
			Value:   4,
			Sources: cli.EnvVars("MESHRUN_WORKERS"),
		},
		&cli.StringFlag{
			Name:    "run-id",
			Usage:   "Run identifier shared by all ranks (generated if not provided)",
			Sources: cli.EnvVars("MESHRUN_RUN_ID"),
		},
		&cli.IntFlag{
			Name:    "rank",
			Usage:   "Rank of this process.",
			Sources: cli.EnvVars("MESHRUN_RANK", "SLURM_PROCID"),
		},
		&cli.IntFlag{
			Name:    "ranks",
			Usage:   "Number of ranks of the run.",
			Value:   1,
			Sources: cli.EnvVars("MESHRUN_RANKS", "SLURM_NTASKS"),
		},
		&cli.StringFlag{
			Name:    "consensus",
			Usage:   "Consensus backend (local, redis)",
			Value:   app.ConsensusLocal,
			Sources: cli.EnvVars("MESHRUN_CONSENSUS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL of the redis consensus backend",
			Sources: cli.EnvVars("MESHRUN_REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "events",
			Usage:   "Lifecycle event publisher (none, gochannel, kafka)",
			Value:   app.EventsNone,
			Sources: cli.EnvVars("MESHRUN_EVENTS"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka brokers of the kafka event publisher",
			Sources: cli.EnvVars("MESHRUN_KAFKA_BROKERS"),
		},
		&cli.BoolFlag{
			Name:    "otlp",
			Usage:   "Export traces over OTLP/HTTP, configured by the OTEL_EXPORTER_OTLP_* variables",
			Sources: cli.EnvVars("MESHRUN_OTLP"),
		},
		&cli.StringFlag{
			Name:    "s3-endpoint",
			Usage:   "Custom S3 endpoint for s3:// checkpoint paths",
			Sources: cli.EnvVars("MESHRUN_S3_ENDPOINT"),
		},
		&cli.StringFlag{
			Name:    "s3-region",
			Usage:   "Region for s3:// checkpoint paths",
			Sources: cli.EnvVars("MESHRUN_S3_REGION", "AWS_REGION"),
		},
		&cli.BoolFlag{
			Name:    "s3-path-style",
			Usage:   "Use path-style S3 addressing",
			Sources: cli.EnvVars("MESHRUN_S3_PATH_STYLE"),
		},
		&cli.BoolFlag{
			Name:  "dot",
			Usage: "Print the module dependency graph in Graphviz format and exit",
		},
	}
}

// Parse processes command-line arguments, without the program name. It
// returns a populated Config, a boolean indicating if the program should
// exit cleanly, or an ExitError.
func Parse(ctx context.Context, args []string, output io.Writer) (*app.Config, bool, error) {
	var parsed *app.Config
	cmd := &cli.Command{
		Name:      "meshrun",
		Usage:     "Run a mesh simulation from declarative run files",
		ArgsUsage: "[RUN_PATH...]",
		Writer:    output,
		ErrWriter: output,
		Flags:     flags(),
		OnUsageError: func(_ context.Context, _ *cli.Command, err error, _ bool) error {
			return err
		},
		Action: func(_ context.Context, command *cli.Command) error {
			paths := append(command.StringSlice("config"), command.Args().Slice()...)
			if len(paths) == 0 {
				return &ExitError{Code: ExitUsage, Message: "no run file given, see --help"}
			}

			cfg, err := app.NewConfig(app.Config{
				ConfigPaths:   paths,
				AddModules:    command.StringSlice("add-module"),
				RemoveModules: command.StringSlice("remove-module"),
				LogFormat:     strings.ToLower(command.String("log-format")),
				LogLevel:      strings.ToLower(command.String("log-level")),
				StatusPort:    command.Int("status-port"),
				Workers:       command.Int("workers"),
				RunID:         command.String("run-id"),
				Rank:          command.Int("rank"),
				Ranks:         command.Int("ranks"),
				Consensus:     command.String("consensus"),
				RedisURL:      command.String("redis-url"),
				Events:        command.String("events"),
				KafkaBrokers:  command.StringSlice("kafka-brokers"),
				OTLP:          command.Bool("otlp"),
				S3Endpoint:    command.String("s3-endpoint"),
				S3Region:      command.String("s3-region"),
				S3PathStyle:   command.Bool("s3-path-style"),
				DOT:           command.Bool("dot"),
			})
			if err != nil {
				return &ExitError{Code: ExitUsage, Message: err.Error()}
			}
			parsed = cfg
			return nil
		},
	}

	if err := cmd.Run(ctx, append([]string{"meshrun"}, args...)); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return nil, false, exitErr
		}
		return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	if parsed == nil {
		return nil, true, nil
	}
	return parsed, false, nil
}
