package hcl

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/meshrun/internal/config"
	"github.com/vk/meshrun/internal/ctxlog"
	"github.com/vk/meshrun/internal/fsutil"
)

// Loader is the HCL implementation of the config.Loader interface.
type Loader struct {
	environ []string
}

// NewLoader creates a loader exposing the process environment to
// expressions as env.NAME.
func NewLoader() *Loader {
	return &Loader{environ: os.Environ()}
}

// NewLoaderWithEnv creates a loader exposing the given KEY=VALUE pairs
// instead of the process environment.
func NewLoaderWithEnv(environ []string) *Loader {
	return &Loader{environ: environ}
}

// Load parses every .hcl file found under paths, in order, and merges their
// blocks into one model. Module and output blocks accumulate in declaration
// order; every other block may appear in at most one file. The model is not
// validated here.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, config.Converter, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := fsutil.CollectFiles(paths, ".hcl")
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	evalCtx := newEvalContext(l.environ)
	parser := hclparse.NewParser()
	m := &model{Model: &config.Model{}, sources: make(map[string]string)}

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		var root fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, evalCtx, &root); diags.HasErrors() {
			return nil, nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}
		if err := m.merge(ctx, file, &root); err != nil {
			return nil, nil, err
		}
	}

	logger.Debug("HCL loading complete.",
		"files", len(files),
		"modules", len(m.Modules),
		"outputs", len(m.Outputs),
	)
	return m.Model, NewConverter(evalCtx), nil
}
