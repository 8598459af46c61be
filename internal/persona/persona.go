// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package persona supplies the character a user is talking to
package persona

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ReplyStyle describes how a persona answers
type ReplyStyle struct {
	Pace       string   `yaml:"pace,omitempty" json:"pace,omitempty"`
	Length     string   `yaml:"length,omitempty" json:"length,omitempty"`
	Structure  []string `yaml:"structure,omitempty" json:"structure,omitempty"`
	Signatures []string `yaml:"signatures,omitempty" json:"signatures,omitempty"`
}

// Config is a named character definition
type Config struct {
	Name         string      `yaml:"name" json:"name"`
	BaseTemplate string      `yaml:"base_template" json:"base_template"`
	ReplyStyle   *ReplyStyle `yaml:"reply_style,omitempty" json:"reply_style,omitempty"`
}

// Overrides are per-user adjustments to a persona
type Overrides struct {
	PromptAddition      *string           `yaml:"prompt_addition,omitempty" json:"prompt_addition,omitempty"`
	ReplyStyleOverrides map[string]string `yaml:"reply_style_overrides,omitempty" json:"reply_style_overrides,omitempty"`
}

// Binding is the persona active for a user together with their overrides
type Binding struct {
	Persona   Config
	Overrides Overrides
}

// Provider looks up the active persona. A nil Binding with a nil error
// means the user has none.
type Provider interface {
	ActivePersonaFor(ctx context.Context, userID int64) (*Binding, error)
}

// ProviderFunc adapts a function to Provider
type ProviderFunc func(ctx context.Context, userID int64) (*Binding, error)

// ActivePersonaFor calls f
func (f ProviderFunc) ActivePersonaFor(ctx context.Context, userID int64) (*Binding, error) {
	return f(ctx, userID)
}

// None is a Provider that never binds a persona
var None Provider = ProviderFunc(func(context.Context, int64) (*Binding, error) { return nil, nil })

// catalog is the on-disk YAML layout
type catalog struct {
	Default  string        `yaml:"default"`
	Personas []Config      `yaml:"personas"`
	Users    []userBinding `yaml:"users"`
}

type userBinding struct {
	UserID    int64  `yaml:"user_id"`
	Persona   string `yaml:"persona"`
	Overrides `yaml:",inline"`
}

// FileProvider serves personas from a YAML catalog
type FileProvider struct {
	mu       sync.RWMutex
	personas map[string]Config
	users    map[int64]userBinding
	fallback string
}

// LoadFile reads a catalog from path
func LoadFile(path string) (*FileProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona catalog: %w", err)
	}
	return Parse(data)
}

// Parse builds a provider from YAML catalog bytes
func Parse(data []byte) (*FileProvider, error) {
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse persona catalog: %w", err)
	}

	p := &FileProvider{
		personas: make(map[string]Config, len(c.Personas)),
		users:    make(map[int64]userBinding, len(c.Users)),
		fallback: c.Default,
	}
	for _, persona := range c.Personas {
		name := strings.TrimSpace(persona.Name)
		if name == "" {
			return nil, fmt.Errorf("persona without a name")
		}
		if strings.TrimSpace(persona.BaseTemplate) == "" {
			return nil, fmt.Errorf("persona %q has no base_template", name)
		}
		if _, dup := p.personas[name]; dup {
			return nil, fmt.Errorf("duplicate persona %q", name)
		}
		p.personas[name] = persona
	}
	if p.fallback != "" {
		if _, ok := p.personas[p.fallback]; !ok {
			return nil, fmt.Errorf("default persona %q is not defined", p.fallback)
		}
	}
	for _, u := range c.Users {
		if _, ok := p.personas[u.Persona]; !ok {
			return nil, fmt.Errorf("user %d is bound to unknown persona %q", u.UserID, u.Persona)
		}
		p.users[u.UserID] = u
	}
	return p, nil
}

// ActivePersonaFor returns the user's bound persona, else the catalog
// default, else nil.
func (p *FileProvider) ActivePersonaFor(_ context.Context, userID int64) (*Binding, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if u, ok := p.users[userID]; ok {
		return &Binding{Persona: p.personas[u.Persona], Overrides: u.Overrides}, nil
	}
	if p.fallback != "" {
		return &Binding{Persona: p.personas[p.fallback]}, nil
	}
	return nil, nil
}

// Bind assigns a persona to a user at runtime
func (p *FileProvider) Bind(userID int64, name string, o Overrides) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.personas[name]; !ok {
		return fmt.Errorf("unknown persona %q", name)
	}
	p.users[userID] = userBinding{UserID: userID, Persona: name, Overrides: o}
	return nil
}

// Names lists the catalog's persona names
func (p *FileProvider) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.personas))
	for name := range p.personas {
		names = append(names, name)
	}
	return names
}
