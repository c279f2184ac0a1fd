package hcl

import "github.com/hashicorp/hcl/v2"

// fileRoot decodes every top-level block a run file may contain. Singleton
// blocks may appear in at most one file.
type fileRoot struct {
	Run               *runBlock        `hcl:"run,block"`
	Mesh              *meshBlock       `hcl:"mesh,block"`
	Forcing           *forcingBlock    `hcl:"forcing,block"`
	Parameters        *valuesBlock     `hcl:"parameters,block"`
	InitialConditions *valuesBlock     `hcl:"initial_conditions,block"`
	Modules           []*moduleBlock   `hcl:"module,block"`
	Checkpoint        *checkpointBlock `hcl:"checkpoint,block"`
	Outputs           []*outputBlock   `hcl:"output,block"`
}

type runBlock struct {
	Name         string `hcl:"name"`
	OutputDir    string `hcl:"output_dir,optional"`
	NotifyScript string `hcl:"notify_script,optional"`
}

type meshBlock struct {
	Elements int `hcl:"elements"`
}

type forcingBlock struct {
	Start      string             `hcl:"start"`
	End        string             `hcl:"end"`
	Timestep   string             `hcl:"timestep"`
	Values     map[string]float64 `hcl:"values"`
	Amplitudes map[string]float64 `hcl:"amplitudes,optional"`
}

type valuesBlock struct {
	Values map[string]float64 `hcl:"values"`
}

type moduleBlock struct {
	Type string   `hcl:"type,label"`
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

type checkpointBlock struct {
	Enabled      *bool  `hcl:"enabled,optional"`
	Path         string `hcl:"path,optional"`
	Frequency    *int   `hcl:"frequency,optional"`
	OnLast       bool   `hcl:"on_last,optional"`
	OnOutOfTime  bool   `hcl:"on_out_of_time,optional"`
	SafetyMargin string `hcl:"safety_margin,optional"`
	LoadFrom     string `hcl:"load_from,optional"`
}

type outputBlock struct {
	Kind      string   `hcl:"kind,label"`
	Name      string   `hcl:"name,label"`
	Variables []string `hcl:"variables"`
	Element   int      `hcl:"element,optional"`

	Sink  string `hcl:"sink,optional"`
	Path  string `hcl:"path,optional"`
	DSN   string `hcl:"dsn,optional"`
	Table string `hcl:"table,optional"`
	URL   string `hcl:"url,optional"`

	OnlyLastN        *int   `hcl:"only_last_n,optional"`
	Frequency        *int   `hcl:"frequency,optional"`
	SpecificTime     string `hcl:"specific_time,optional"`
	SpecificDateTime string `hcl:"specific_datetime,optional"`
	Schedule         string `hcl:"schedule,optional"`
}
