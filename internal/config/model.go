package config

import "time"

// Model is the unified representation of a run file.
type Model struct {
	Run               Run
	Mesh              Mesh
	Forcing           Forcing
	Parameters        map[string]float64
	InitialConditions map[string]float64
	// Modules keeps declaration order, which breaks scheduling ties.
	Modules    []*ModuleSpec `validate:"dive"`
	Checkpoint Checkpoint
	Outputs    []*Output `validate:"dive"`
}

// Run holds run-wide settings.
type Run struct {
	Name         string `validate:"required"`
	OutputDir    string
	NotifyScript string
}

// Mesh sizes the simulated mesh.
type Mesh struct {
	Elements int `validate:"gt=0"`
}

// Forcing describes the synthetic forcing provider and, through its range,
// the simulated period.
type Forcing struct {
	Start time.Time
	End   time.Time     `validate:"gtefield=Start"`
	Step  time.Duration `validate:"gt=0"`
	// Values holds the mean of each forcing variable.
	Values map[string]float64 `validate:"required"`
	// Amplitudes adds a diurnal cycle to some variables.
	Amplitudes map[string]float64
}

// ModuleSpec is one module block.
type ModuleSpec struct {
	Type string `validate:"required"`
	Name string `validate:"required"`
	// Body is the format-specific module body, decoded by a Converter.
	Body any
	// Origin locates the block in its source file for error messages.
	Origin string
}

// Checkpoint holds checkpoint policy settings.
type Checkpoint struct {
	Enabled      bool
	Path         string `validate:"required_if=Enabled true"`
	Frequency    *int   `validate:"omitempty,gt=0"`
	OnLast       bool
	OnOutOfTime  bool
	SafetyMargin time.Duration `validate:"gte=0"`
	LoadFrom     string
}

// Sink kinds accepted by an output block.
const (
	SinkParquet  = "parquet"
	SinkPostgres = "postgres"
	SinkSocketIO = "socketio"
)

// Output is one output block.
type Output struct {
	Kind      string   `validate:"oneof=timeseries mesh"`
	Name      string   `validate:"required"`
	Variables []string `validate:"min=1,dive,required"`
	Element   int      `validate:"gte=0"`

	Sink  string `validate:"oneof=parquet postgres socketio"`
	Path  string `validate:"required_if=Sink parquet"`
	DSN   string `validate:"required_if=Sink postgres"`
	Table string
	URL   string `validate:"required_if=Sink socketio"`

	OnlyLastN        *int `validate:"omitempty,gt=0"`
	Frequency        *int `validate:"omitempty,gt=0"`
	SpecificTime     string
	SpecificDateTime *time.Time
	Schedule         string
}

// HasTrigger reports whether any trigger attribute was set.
func (o *Output) HasTrigger() bool {
	return o.OnlyLastN != nil || o.Frequency != nil || o.SpecificTime != "" ||
		o.SpecificDateTime != nil || o.Schedule != ""
}
