// Package config defines the format-agnostic model of a run file, along
// with the interfaces (Loader, Converter) for loading it from a concrete
// format and decoding module bodies into Go structs.
//
// The Model is the single source of truth for the app package, which turns
// it into modules, outputs and checkpoint options. Concrete formats, such as
// HCL, live in separate packages.
package config
