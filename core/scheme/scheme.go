// Package scheme provides out-of-band message type catalogs.
//
// A scheme describes the DATA messages a channel produces: message names,
// ids and field layouts. Schemes are loaded by URL — either inline
// ("yaml://messages: ...") or from a file — and are usually cached by the
// owning context.
package scheme

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Field is a single field of a scheme message.
type Field struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Message describes one message type in a scheme.
type Message struct {
	Name   string  `yaml:"name"`
	ID     int32   `yaml:"id"`
	Fields []Field `yaml:"fields"`
}

// Scheme is a catalog of message types.
type Scheme struct {
	Messages []Message `yaml:"messages"`
}

// Lookup returns the message with the given name, or nil.
func (s *Scheme) Lookup(name string) *Message {
	for i := range s.Messages {
		if s.Messages[i].Name == name {
			return &s.Messages[i]
		}
	}
	return nil
}

// LookupID returns the message with the given id, or nil.
func (s *Scheme) LookupID(id int32) *Message {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return &s.Messages[i]
		}
	}
	return nil
}

// Parse decodes a yaml scheme document.
func Parse(data []byte) (*Scheme, error) {
	var s Scheme
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scheme: %w", err)
	}
	for i := range s.Messages {
		if s.Messages[i].Name == "" {
			return nil, fmt.Errorf("parse scheme: message %d has no name", i)
		}
	}
	return &s, nil
}

// Load loads a scheme from a URL: "yaml://<inline yaml>" or a file path
// (with optional "file://" prefix).
func Load(url string) (*Scheme, error) {
	switch {
	case strings.HasPrefix(url, "yaml://"):
		return Parse([]byte(url[len("yaml://"):]))
	case strings.HasPrefix(url, "file://"):
		url = url[len("file://"):]
	}
	data, err := os.ReadFile(url)
	if err != nil {
		return nil, fmt.Errorf("load scheme: %w", err)
	}
	return Parse(data)
}
