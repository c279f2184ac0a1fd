// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the run lifecycle, decoupled from any
// specific entrypoint like a CLI.
//
// NewApp loads and validates the run files; Run turns the model into
// modules, a schedule, outputs and checkpoint policy, then hands them to
// the execution driver.
package app
