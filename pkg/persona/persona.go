// Package persona holds the fixed set of assistant identities a call can be
// answered or placed as. The set is loaded once at startup and never changes.
package persona

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/phonehub/phonehub/pkg/utils"
)

// Persona is one assistant identity.
type Persona struct {
	ID                 string `yaml:"id" json:"id"`
	DisplayName        string `yaml:"display_name" json:"display_name"`
	Description        string `yaml:"description,omitempty" json:"description,omitempty"`
	DialogInstructions string `yaml:"dialog_instructions" json:"dialog_instructions"`
	WelcomeLine        string `yaml:"welcome_line,omitempty" json:"welcome_line,omitempty"`
	FollowUpLine       string `yaml:"follow_up_line,omitempty" json:"follow_up_line,omitempty"`
	RoutingNumber      string `yaml:"routing_number" json:"routing_number"`
	Voice              string `yaml:"voice,omitempty" json:"voice,omitempty"`
	SummaryWebhookURL  string `yaml:"summary_webhook_url,omitempty" json:"summary_webhook_url,omitempty"`
}

// Welcome returns the inbound greeting, falling back to a generic line.
func (p Persona) Welcome() string {
	if strings.TrimSpace(p.WelcomeLine) != "" {
		return p.WelcomeLine
	}
	return fmt.Sprintf("Hello, thank you for calling %s. How may I assist you today?", p.DisplayName)
}

// FollowUp returns the prompt spoken while waiting for the caller to go on.
func (p Persona) FollowUp() string {
	if strings.TrimSpace(p.FollowUpLine) != "" {
		return p.FollowUpLine
	}
	return "Please continue."
}

// Defaults is the built-in persona list used when no file is configured.
// The first entry is the default persona.
func Defaults() []Persona {
	return []Persona{
		{
			ID:                 "triton",
			DisplayName:        "Triton Handyman",
			Description:        "Professional handyman services",
			DialogInstructions: "Professional, helpful, and knowledgeable about home repairs and services. Always friendly and service-oriented.",
			WelcomeLine:        "Hello, thank you for calling Triton Handyman Services. I'm your AI assistant and I'm here to help with your home repair and maintenance needs.",
			RoutingNumber:      "+18305005485",
		},
		{
			ID:                 "school",
			DisplayName:        "School Contact",
			Description:        "Kids' school communications",
			DialogInstructions: "Professional and informative about school matters. Parent-friendly and focused on student well-being.",
			WelcomeLine:        "Hello, this is the school assistant for the Moses family. I'm here to help with any school-related matters, take messages, or assist with scheduling.",
			RoutingNumber:      "+18305005485",
		},
		{
			ID:                 "personal",
			DisplayName:        "Personal",
			Description:        "Family and friends",
			DialogInstructions: "Warm, friendly, and personal. Like a helpful family assistant.",
			RoutingNumber:      "+18305005485",
		},
	}
}

// Registry is an immutable, ordered persona table.
type Registry struct {
	personas []Persona
	byID     map[string]int
	byNumber map[string]int
}

// New validates personas and builds a registry. Numbers shared by several
// personas route to the first of them.
func New(personas []Persona) (*Registry, error) {
	if len(personas) == 0 {
		return nil, errors.New("persona registry needs at least one persona")
	}

	r := &Registry{
		personas: make([]Persona, len(personas)),
		byID:     make(map[string]int, len(personas)),
		byNumber: make(map[string]int, len(personas)),
	}
	copy(r.personas, personas)

	for i, p := range r.personas {
		if strings.TrimSpace(p.ID) == "" {
			return nil, fmt.Errorf("persona %d: id is required", i)
		}
		if strings.TrimSpace(p.DisplayName) == "" {
			return nil, fmt.Errorf("persona %q: display_name is required", p.ID)
		}
		if _, dup := r.byID[p.ID]; dup {
			return nil, fmt.Errorf("persona %q: duplicate id", p.ID)
		}
		r.byID[p.ID] = i

		if p.RoutingNumber == "" {
			continue
		}
		number := utils.NormalizePhone(p.RoutingNumber)
		if !utils.ValidateE164(number) {
			return nil, fmt.Errorf("persona %q: routing_number %q is not a valid phone number", p.ID, p.RoutingNumber)
		}
		r.personas[i].RoutingNumber = number
		if _, taken := r.byNumber[number]; !taken {
			r.byNumber[number] = i
		}
	}

	return r, nil
}

type file struct {
	Personas []Persona `yaml:"personas"`
}

// LoadFile reads a YAML persona list from path.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read personas file: %w", err)
	}
	return Parse(data)
}

// Parse builds a registry from YAML.
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse personas: %w", err)
	}
	return New(f.Personas)
}

// Load returns the registry from path, or the built-in defaults if path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return New(Defaults())
	}
	return LoadFile(path)
}

// Resolve returns the persona that answers number. It always returns a
// persona: unknown or empty numbers resolve to the default.
func (r *Registry) Resolve(number string) Persona {
	if i, ok := r.byNumber[utils.NormalizePhone(number)]; ok {
		return r.personas[i]
	}
	return r.personas[0]
}

// ByID returns the persona with id, or the default if there is none.
func (r *Registry) ByID(id string) Persona {
	if p, ok := r.Lookup(id); ok {
		return p
	}
	return r.personas[0]
}

// Lookup reports whether a persona with id exists.
func (r *Registry) Lookup(id string) (Persona, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Persona{}, false
	}
	return r.personas[i], true
}

// Default is the first persona in the table.
func (r *Registry) Default() Persona {
	return r.personas[0]
}

// All returns a copy of the persona table in order.
func (r *Registry) All() []Persona {
	out := make([]Persona, len(r.personas))
	copy(out, r.personas)
	return out
}
