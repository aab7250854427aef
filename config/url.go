// Package config provides the channel URL type, generic config trees,
// yaml loading and hot reload for the conduit runtime.
//
// Channel URLs use the form "proto://host;key=value;key=value;...".
// The proto part may contain '+' to denote prefix stacking
// ("zstd+tcp://..."). Keys keep their insertion order so a URL survives
// a parse/serialize round trip unchanged.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Reserved keys understood by the core runtime.
const (
	KeyName     = "name"
	KeyMaster   = "master"
	KeyInternal = "tll.internal"
	KeyProto    = "tll.proto"
	KeyHost     = "tll.host"
	KeyDump     = "dump"
	KeyStat     = "stat"
)

// URL is a parsed channel URL: protocol, host and ordered properties.
type URL struct {
	proto string
	host  string
	props
}

// props is an ordered string map shared by URL and Props.
type props struct {
	keys   []string
	values map[string]string
}

// ParseURL parses "proto://host;key=value;..." into a URL.
func ParseURL(s string) (*URL, error) {
	sep := strings.Index(s, "://")
	if sep < 0 {
		return nil, fmt.Errorf("invalid url %q: no '://' separator", s)
	}
	proto := s[:sep]
	if proto == "" {
		return nil, fmt.Errorf("invalid url %q: empty protocol", s)
	}
	rest := s[sep+3:]
	u := &URL{proto: proto, props: newProps()}
	if rest == "" {
		return u, nil
	}
	parts := strings.Split(rest, ";")
	u.host = parts[0]
	if err := u.props.parse(parts[1:]); err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", s, err)
	}
	return u, nil
}

// NewURL creates an empty URL with the given protocol.
func NewURL(proto string) *URL {
	return &URL{proto: proto, props: newProps()}
}

// Proto returns the protocol part.
func (u *URL) Proto() string { return u.proto }

// SetProto replaces the protocol part.
func (u *URL) SetProto(p string) { u.proto = p }

// Host returns the host part.
func (u *URL) Host() string { return u.host }

// SetHost replaces the host part.
func (u *URL) SetHost(h string) { u.host = h }

// Copy returns a deep copy of the URL.
func (u *URL) Copy() *URL {
	c := &URL{proto: u.proto, host: u.host, props: newProps()}
	for _, k := range u.keys {
		c.Set(k, u.values[k])
	}
	return c
}

// String serializes the URL back to "proto://host;key=value;..." form,
// keeping property insertion order.
func (u *URL) String() string {
	var b strings.Builder
	b.WriteString(u.proto)
	b.WriteString("://")
	b.WriteString(u.host)
	for _, k := range u.keys {
		b.WriteByte(';')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(u.values[k])
	}
	return b.String()
}

func newProps() props {
	return props{values: make(map[string]string)}
}

// ParseProps parses open-parameter strings of the form "key=value;key=value".
func ParseProps(s string) (*Props, error) {
	p := &Props{newProps()}
	if s == "" {
		return p, nil
	}
	if err := p.parse(strings.Split(s, ";")); err != nil {
		return nil, fmt.Errorf("invalid parameters %q: %w", s, err)
	}
	return p, nil
}

// Props is an ordered key=value parameter list (open parameters).
type Props struct {
	props
}

// String serializes the parameters back to "key=value;..." form.
func (p *Props) String() string {
	var b strings.Builder
	for i, k := range p.keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p.values[k])
	}
	return b.String()
}

func (p *props) parse(pairs []string) error {
	for _, kv := range pairs {
		if kv == "" {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= 0 {
			return fmt.Errorf("malformed pair %q", kv)
		}
		p.Set(kv[:eq], kv[eq+1:])
	}
	return nil
}

// Has reports whether the key is present.
func (p *props) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

// Get returns the value for key and whether it was present.
func (p *props) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Set stores a value, appending the key to the order on first insert.
func (p *props) Set(key, value string) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Unset removes a key if present.
func (p *props) Unset(key string) {
	if _, ok := p.values[key]; !ok {
		return
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

// Keys returns property keys in insertion order.
func (p *props) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// GetString returns the value for key or def when absent.
func (p *props) GetString(key, def string) string {
	if v, ok := p.values[key]; ok {
		return v
	}
	return def
}

// GetBool parses a yes/no true/false property.
func (p *props) GetBool(key string, def bool) (bool, error) {
	v, ok := p.values[key]
	if !ok {
		return def, nil
	}
	switch strings.ToLower(v) {
	case "yes", "true", "1":
		return true, nil
	case "no", "false", "0":
		return false, nil
	}
	return def, fmt.Errorf("invalid %s parameter: %q is not a boolean", key, v)
}

// GetInt parses an integer property.
func (p *props) GetInt(key string, def int64) (int64, error) {
	v, ok := p.values[key]
	if !ok {
		return def, nil
	}
	r, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def, fmt.Errorf("invalid %s parameter: %q is not an integer", key, v)
	}
	return r, nil
}

// GetDuration parses a time.Duration property ("100ms", "3s").
func (p *props) GetDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p.values[key]
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s parameter: %q is not a duration", key, v)
	}
	return d, nil
}

// GetSize parses a size property with optional kb/mb/gb suffix ("64kb").
func (p *props) GetSize(key string, def int64) (int64, error) {
	v, ok := p.values[key]
	if !ok {
		return def, nil
	}
	s := strings.ToLower(strings.TrimSpace(v))
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "kb"):
		mult, s = 1<<10, s[:len(s)-2]
	case strings.HasSuffix(s, "mb"):
		mult, s = 1<<20, s[:len(s)-2]
	case strings.HasSuffix(s, "gb"):
		mult, s = 1<<30, s[:len(s)-2]
	case strings.HasSuffix(s, "b"):
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return def, fmt.Errorf("invalid %s parameter: %q is not a size", key, v)
	}
	return n * mult, nil
}
