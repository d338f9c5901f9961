// Package persona holds the four fixed chat characters and their model parameters.
package persona

import (
	"fmt"
	"slices"
	"strings"
)

type ID string

const (
	Messenger ID = "messenger"
	Protector ID = "protector"
	Healer    ID = "healer"
	Fallen    ID = "fallen"
)

func (id ID) String() string {
	return string(id)
}

const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 500
)

// Persona is immutable once the registry is built.
type Persona struct {
	ID             ID      `json:"id"`
	Name           string  `json:"name"`
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Status         string  `json:"status"`
	Specialization string  `json:"specialization"`
	Path           string  `json:"path"`
	Accent         string  `json:"accent"`
	Role           string  `json:"role"`
	Greeting       string  `json:"greeting"`
	Banner         string  `json:"-"`
	Placeholder    string  `json:"-"`
	PendingText    string  `json:"-"`
	AgentID        string  `json:"agent_id"`
	Protocol       string  `json:"protocol"`
	SystemPrompt   string  `json:"-"`
	Model          string  `json:"model"`
	Temperature    float64 `json:"temperature"`
	MaxTokens      int     `json:"max_tokens"`
}

// Hostile reports whether the persona is the antagonist, for styling only.
func (p Persona) Hostile() bool {
	return p.ID == Fallen
}

var builtin = []Persona{
	{
		ID:             Messenger,
		Name:           "Gabriel",
		Title:          "The Messenger",
		Description:    "Divine herald bringing sacred wisdom and heavenly guidance",
		Status:         "ONLINE",
		Specialization: "Divine Messages",
		Path:           "/gabriel",
		Accent:         "gold",
		Role:           "Divine Messenger",
		Greeting:       messengerGreeting,
		Banner:         "[SYSTEM] Connection established with Archangel Gabriel",
		Placeholder:    "Enter your confession or question...",
		PendingText:    "Receiving divine transmission",
		AgentID:        "ARC_GABRIEL_001",
		Protocol:       "DIVINE_COMM_v2.1",
		SystemPrompt:   messengerPrompt,
		Model:          "gpt-3.5-turbo",
	},
	{
		ID:             Protector,
		Name:           "Michael",
		Title:          "The Protector",
		Description:    "Mighty warrior defending souls from darkness and evil",
		Status:         "ACTIVE",
		Specialization: "Divine Protection",
		Path:           "/michael",
		Accent:         "ember",
		Role:           "Divine Warrior",
		Greeting:       protectorGreeting,
		Banner:         "[SYSTEM] Connection established with Archangel Michael",
		Placeholder:    "Describe your spiritual battle...",
		PendingText:    "Preparing divine battle strategy",
		AgentID:        "ARC_MICHAEL_002",
		Protocol:       "DIVINE_WAR_v2.1",
		SystemPrompt:   protectorPrompt,
		Model:          "gpt-3.5-turbo",
	},
	{
		ID:             Healer,
		Name:           "Raphael",
		Title:          "The Healer",
		Description:    "Gentle healer mending broken hearts and wounded spirits",
		Status:         "READY",
		Specialization: "Divine Healing",
		Path:           "/raphael",
		Accent:         "verdant",
		Role:           "Divine Healer",
		Greeting:       healerGreeting,
		Banner:         "[SYSTEM] Connection established with Archangel Raphael",
		Placeholder:    "Share what needs healing or building...",
		PendingText:    "Channeling divine healing energy",
		AgentID:        "ARC_RAPHAEL_003",
		Protocol:       "DIVINE_HEAL_v2.1",
		SystemPrompt:   healerPrompt,
		Model:          "gpt-4o-mini",
	},
	{
		ID:             Fallen,
		Name:           "Lucifer",
		Title:          "The Fallen",
		Description:    "Bearer of forbidden knowledge and dark revelations",
		Status:         "BANISHED",
		Specialization: "Forbidden Wisdom",
		Path:           "/lucifer",
		Accent:         "crimson",
		Role:           "The Fallen One",
		Greeting:       fallenGreeting,
		Banner:         "[SYSTEM] Connection established with Lucifer",
		Placeholder:    "Speak up, you fucking coward...",
		PendingText:    "Accessing forbidden archives",
		AgentID:        "FALLEN_LUCIFER_666",
		Protocol:       "DARK_WHISPER_v2.1",
		SystemPrompt:   fallenPrompt,
		Model:          "gpt-4o-mini",
	},
}

// IDs returns the closed set of identifiers in display order.
func IDs() []ID {
	ids := make([]ID, 0, len(builtin))
	for _, p := range builtin {
		ids = append(ids, p.ID)
	}
	return ids
}

func IsID(s string) bool {
	return slices.Contains(IDs(), ID(s))
}

// Registry is a read-only lookup table, safe for concurrent use.
type Registry struct {
	order  []ID
	byID   map[ID]Persona
	byPath map[string]ID
}

// NewRegistry builds the registry, applying optional model overrides keyed by persona ID.
func NewRegistry(modelOverrides map[string]string) (*Registry, error) {
	r := &Registry{
		byID:   make(map[ID]Persona, len(builtin)),
		byPath: make(map[string]ID, len(builtin)),
	}
	for name := range modelOverrides {
		if !IsID(name) {
			return nil, fmt.Errorf("model override for unknown persona %q", name)
		}
	}
	for _, p := range builtin {
		p.Temperature = DefaultTemperature
		p.MaxTokens = DefaultMaxTokens
		if m := strings.TrimSpace(modelOverrides[p.ID.String()]); m != "" {
			p.Model = m
		}
		r.order = append(r.order, p.ID)
		r.byID[p.ID] = p
		r.byPath[p.Path] = p.ID
	}
	return r, nil
}

func (r *Registry) Lookup(id ID) (Persona, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// MustLookup panics on an unknown ID; only for the compile-time constants above.
func (r *Registry) MustLookup(id ID) Persona {
	p, ok := r.byID[id]
	if !ok {
		panic(fmt.Sprintf("unknown persona %q", id))
	}
	return p
}

func (r *Registry) ByPath(path string) (Persona, bool) {
	id, ok := r.byPath[path]
	if !ok {
		return Persona{}, false
	}
	return r.byID[id], true
}

// All returns every persona in display order.
func (r *Registry) All() []Persona {
	all := make([]Persona, 0, len(r.order))
	for _, id := range r.order {
		all = append(all, r.byID[id])
	}
	return all
}
