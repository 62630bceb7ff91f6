// Package buyers loads the ranked list of buyers that leads are offered to.
package buyers

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"lead_waterfall_backend/platform/validator"

	"gopkg.in/yaml.v3"
)

// Buyer is one ranked recipient of lead offers.
type Buyer struct {
	Name  string `yaml:"name" json:"name" validate:"required,max=120"`
	Email string `yaml:"email" json:"email" validate:"required,email"`
}

type rosterFile struct {
	Buyers []Buyer `yaml:"buyers"`
}

// Roster is the ordered, read-only buyer list. Index 0 is offered first.
type Roster struct {
	buyers []Buyer
}

// NewRoster validates buyers and returns a roster in the given order.
func NewRoster(val *validator.Validator, buyers []Buyer) (*Roster, error) {
	if len(buyers) == 0 {
		return nil, fmt.Errorf("buyer roster is empty")
	}
	seen := make(map[string]int, len(buyers))
	out := make([]Buyer, 0, len(buyers))
	for i, b := range buyers {
		b.Name = strings.TrimSpace(b.Name)
		b.Email = strings.TrimSpace(b.Email)
		if err := val.Struct(b); err != nil {
			return nil, fmt.Errorf("buyer %d: %v", i, validator.FieldErrors(err))
		}
		key := strings.ToLower(b.Email)
		if prev, dup := seen[key]; dup {
			return nil, fmt.Errorf("buyer %d duplicates buyer %d (%s)", i, prev, b.Email)
		}
		seen[key] = i
		out = append(out, b)
	}
	return &Roster{buyers: out}, nil
}

// Load reads a roster file. Both a top-level list and a "buyers:" mapping are
// accepted, in YAML or JSON.
func Load(path string, val *validator.Validator) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read buyer roster: %w", err)
	}
	buyers, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse buyer roster %s: %w", path, err)
	}
	return NewRoster(val, buyers)
}

func parse(data []byte) ([]Buyer, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []Buyer
		if err := yaml.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		return list, nil
	}

	var list []Buyer
	if err := yaml.Unmarshal(trimmed, &list); err == nil {
		return list, nil
	}
	var wrapped rosterFile
	if err := yaml.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Buyers, nil
}

// Len returns the number of buyers.
func (r *Roster) Len() int { return len(r.buyers) }

// At returns the buyer at index i.
func (r *Roster) At(i int) (Buyer, bool) {
	if i < 0 || i >= len(r.buyers) {
		return Buyer{}, false
	}
	return r.buyers[i], true
}
