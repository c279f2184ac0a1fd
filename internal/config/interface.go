package config

import "context"

// Loader is the interface for a format-specific configuration loader.
type Loader interface {
	// Load reads every configuration file found under paths, translates them
	// into the format-agnostic model, and returns a matching Converter.
	Load(ctx context.Context, paths ...string) (*Model, Converter, error)
}

// Converter decodes the format-specific body of a module block into the Go
// struct declared by the module's factory.
type Converter interface {
	DecodeBody(ctx context.Context, spec *ModuleSpec, target any) error
}
