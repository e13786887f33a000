package api

import (
	"maps"
	"time"
)

// Config describes a block at add time. The manager hands each block a copy,
// so blocks may keep it without synchronization.
type Config struct {
	Name        string            `yaml:"name"`
	Kind        string            `yaml:"kind"`
	Version     string            `yaml:"version,omitempty"`
	Author      string            `yaml:"author,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Priority    int               `yaml:"priority"`
	Interval    time.Duration     `yaml:"interval,omitempty"`
	Count       int               `yaml:"count,omitempty"`
	Settings    map[string]string `yaml:"settings,omitempty"`
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	c.Settings = maps.Clone(c.Settings)
	return c
}

// Setting returns the named setting or def when it is unset.
func (c Config) Setting(key, def string) string {
	if v, ok := c.Settings[key]; ok {
		return v
	}
	return def
}
