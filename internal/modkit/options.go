package modkit

// Option mutates build configuration for a module
type Option func(*buildCfg)

type buildCfg struct {
	name      string
	envPrefix string
}

// WithName overrides the module name used in logs
func WithName(name string) Option {
	return func(c *buildCfg) { c.name = name }
}

// WithEnvPrefix overrides the env prefix a module reads its options from
func WithEnvPrefix(prefix string) Option {
	return func(c *buildCfg) { c.envPrefix = prefix }
}
