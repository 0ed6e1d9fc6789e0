// Package module defines the minimal contract for a modkit module
package module

// Module mirrors modkit.Module without importing it
type Module interface {
	Ports() any
	Name() string
}
