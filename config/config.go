package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is an ordered tree of string values. The runtime uses it for the
// per-context live state (one subtree per named channel) and for defaults
// loaded from yaml files.
type Config struct {
	values map[string]string
	subs   map[string]*Config
}

// New creates an empty config tree.
func New() *Config {
	return &Config{
		values: make(map[string]string),
		subs:   make(map[string]*Config),
	}
}

// Set stores a scalar value under key.
func (c *Config) Set(key, value string) {
	c.values[key] = value
}

// Get returns the scalar value stored under key.
func (c *Config) Get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// GetOr returns the scalar value under key or def when absent.
func (c *Config) GetOr(key, def string) string {
	if v, ok := c.values[key]; ok {
		return v
	}
	return def
}

// Del removes a scalar value or subtree with the given key.
func (c *Config) Del(key string) {
	delete(c.values, key)
	delete(c.subs, key)
}

// Sub returns the subtree stored under key, or nil.
func (c *Config) Sub(key string) *Config {
	return c.subs[key]
}

// SetSub attaches a subtree under key, replacing any previous entry.
func (c *Config) SetSub(key string, sub *Config) {
	c.subs[key] = sub
}

// Keys returns the scalar keys of this node in sorted order.
func (c *Config) Keys() []string {
	out := make([]string, 0, len(c.values))
	for k := range c.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SubKeys returns the subtree keys of this node in sorted order.
func (c *Config) SubKeys() []string {
	out := make([]string, 0, len(c.subs))
	for k := range c.subs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Copy returns a deep copy of the tree.
func (c *Config) Copy() *Config {
	out := New()
	for k, v := range c.values {
		out.values[k] = v
	}
	for k, s := range c.subs {
		out.subs[k] = s.Copy()
	}
	return out
}

// Load reads a yaml file into a Config tree. Mappings become subtrees,
// sequences become zero-indexed subtrees, scalars become values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes yaml bytes into a Config tree.
func Parse(data []byte) (*Config, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg := New()
	if len(root.Content) == 0 {
		return cfg, nil
	}
	if err := fromNode(cfg, root.Content[0]); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromNode(cfg *Config, n *yaml.Node) error {
	switch n.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			if err := attach(cfg, key, n.Content[i+1]); err != nil {
				return err
			}
		}
	case yaml.SequenceNode:
		for i, item := range n.Content {
			if err := attach(cfg, strconv.Itoa(i), item); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("parse config: unexpected yaml node kind %d", n.Kind)
	}
	return nil
}

func attach(cfg *Config, key string, n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		cfg.Set(key, n.Value)
		return nil
	case yaml.MappingNode, yaml.SequenceNode:
		sub := New()
		if err := fromNode(sub, n); err != nil {
			return err
		}
		cfg.SetSub(key, sub)
		return nil
	case yaml.AliasNode:
		return attach(cfg, key, n.Alias)
	}
	return fmt.Errorf("parse config: unsupported yaml node for key %q", key)
}
