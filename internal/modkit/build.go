package modkit

// Built is the resolved option set
type Built struct {
	Name      string
	EnvPrefix string
}

// Build applies opts over the given defaults
func Build(defaults Built, opts ...Option) Built {
	c := buildCfg{name: defaults.Name, envPrefix: defaults.EnvPrefix}
	for _, o := range opts {
		if o != nil {
			o(&c)
		}
	}
	return Built{Name: c.name, EnvPrefix: c.envPrefix}
}
