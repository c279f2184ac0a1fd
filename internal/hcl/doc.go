// Package hcl provides the HCL implementation of the configuration loading
// and module body decoding interfaces defined in the config package. It
// parses run files, translates their blocks into config.Model and decodes
// module bodies with gohcl against a shared evaluation context.
package hcl
