package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrEmptyParty     = errors.New("party has no active members")
	ErrUnknownActor   = errors.New("actor is not a party member")
	ErrDuplicateActor = errors.New("actor id already in party")
)

// Party is the ordered set of actors. Turn order is the cyclic order of
// active members sorted by Position.
type Party struct {
	Members []Actor `json:"members"`
}

func NewParty(members ...Actor) (Party, error) {
	p := Party{}
	for _, m := range members {
		if err := p.Add(m); err != nil {
			return Party{}, err
		}
	}
	if err := p.Validate(); err != nil {
		return Party{}, err
	}
	return p, nil
}

func (p Party) Validate() error {
	seen := make(map[string]struct{}, len(p.Members))
	active := 0
	for _, m := range p.Members {
		if m.ID == "" {
			return fmt.Errorf("actor %q has no id", m.Name)
		}
		if !m.Kind.Valid() {
			return fmt.Errorf("actor %s has invalid kind %q", m.ID, m.Kind)
		}
		if _, ok := seen[m.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateActor, m.ID)
		}
		seen[m.ID] = struct{}{}
		if !m.Inactive {
			active++
		}
	}
	if active == 0 {
		return ErrEmptyParty
	}
	return nil
}

// Add appends a member at the end of turn order.
func (p *Party) Add(a Actor) error {
	if _, ok := p.Find(a.ID); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateActor, a.ID)
	}
	a.Position = 0
	for _, m := range p.Members {
		if m.Position >= a.Position {
			a.Position = m.Position + 1
		}
	}
	p.Members = append(p.Members, a)
	p.sort()
	return nil
}

// Deactivate removes an actor from turn order but keeps it for history.
func (p *Party) Deactivate(id string) error {
	for i := range p.Members {
		if p.Members[i].ID == id {
			p.Members[i].Inactive = true
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownActor, id)
}

func (p Party) Find(id string) (Actor, bool) {
	for _, m := range p.Members {
		if m.ID == id {
			return m, true
		}
	}
	return Actor{}, false
}

// FindByName matches character names case-insensitively, as the DM refers to
// characters by name rather than id.
func (p Party) FindByName(name string) (Actor, bool) {
	name = strings.TrimSpace(name)
	for _, m := range p.Members {
		if strings.EqualFold(m.Name, name) || m.ID == name {
			return m, true
		}
	}
	return Actor{}, false
}

func (p *Party) Update(a Actor) error {
	for i := range p.Members {
		if p.Members[i].ID == a.ID {
			p.Members[i] = a
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownActor, a.ID)
}

// Active returns members participating in turn order.
func (p Party) Active() []Actor {
	var out []Actor
	for _, m := range p.Members {
		if !m.Inactive {
			out = append(out, m)
		}
	}
	return out
}

// First returns the first active actor in turn order.
func (p Party) First() (Actor, error) {
	active := p.Active()
	if len(active) == 0 {
		return Actor{}, ErrEmptyParty
	}
	return active[0], nil
}

// Next returns the active actor following id in cyclic order. A sole member
// is its own successor. An id that is no longer active falls through to the
// next active position after it.
func (p Party) Next(id string) (Actor, error) {
	active := p.Active()
	if len(active) == 0 {
		return Actor{}, ErrEmptyParty
	}
	current, ok := p.Find(id)
	if !ok {
		return active[0], nil
	}
	for _, m := range active {
		if m.Position > current.Position {
			return m, nil
		}
	}
	return active[0], nil
}

func (p Party) Names() []string {
	names := make([]string, 0, len(p.Members))
	for _, m := range p.Members {
		names = append(names, m.Name)
	}
	return names
}

func (p Party) Clone() Party {
	out := Party{Members: make([]Actor, len(p.Members))}
	for i, m := range p.Members {
		out.Members[i] = m.Clone()
	}
	return out
}

func (p *Party) sort() {
	sort.SliceStable(p.Members, func(i, j int) bool {
		return p.Members[i].Position < p.Members[j].Position
	})
}
