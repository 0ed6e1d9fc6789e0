// Package modkit provides module wiring and core deps
package modkit

// Module is the common surface for modules that expose ports to main
type Module interface {
	// Ports returns a module specific port set for cross wiring
	Ports() any

	// Name returns the module name used in logs
	Name() string
}

// Builder constructs a Module from shared deps and options
type Builder func(Deps, ...Option) Module
