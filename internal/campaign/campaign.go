// Package campaign loads campaign books and character templates from YAML.
package campaign

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agenthands/tavern/internal/core/model"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownCampaign = fmt.Errorf("campaign %w", model.ErrNotFound)
	ErrUnknownClass    = errors.New("unknown character class")
)

// Campaign is one adventure book: an opening scene, pre-split sections for
// the DM's lookup tool, and optional class overrides.
type Campaign struct {
	Name     string                          `yaml:"name"`
	Title    string                          `yaml:"title"`
	Intro    string                          `yaml:"intro"`
	Classes  map[string]model.CharacterSheet `yaml:"classes"`
	Sections []model.CampaignSection         `yaml:"sections"`
}

func Parse(data []byte) (*Campaign, error) {
	var c Campaign
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse campaign YAML: %w", err)
	}
	for i, s := range c.Sections {
		if strings.TrimSpace(s.Title) == "" {
			return nil, fmt.Errorf("campaign section %d has no title", i)
		}
	}
	return &c, nil
}

func LoadFile(path string) (*Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read campaign file '%s': %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if c.Name == "" {
		c.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return c, nil
}

// Sheet returns a fresh sheet for class, preferring the campaign override.
func (c *Campaign) Sheet(class string) (model.CharacterSheet, error) {
	class = strings.ToLower(strings.TrimSpace(class))
	if sheet, ok := c.Classes[class]; ok {
		return normalizeSheet(sheet), nil
	}
	if sheet, ok := defaultTemplates[class]; ok {
		return sheet.Clone(), nil
	}
	return model.CharacterSheet{}, fmt.Errorf("%w: %q", ErrUnknownClass, class)
}

func normalizeSheet(s model.CharacterSheet) model.CharacterSheet {
	s = s.Clone()
	if s.Level <= 0 {
		s.Level = 1
	}
	if s.MaxHP <= 0 {
		s.MaxHP = max(s.HP, 1)
	}
	if s.HP <= 0 || s.HP > s.MaxHP {
		s.HP = s.MaxHP
	}
	return s
}

// Library is the set of campaigns available to new adventures.
type Library struct {
	campaigns map[string]*Campaign
}

func NewLibrary(campaigns ...*Campaign) *Library {
	l := &Library{campaigns: make(map[string]*Campaign, len(campaigns))}
	for _, c := range campaigns {
		l.campaigns[c.Name] = c
	}
	return l
}

// LoadDir reads every .yaml and .yml file in dir. A missing dir is an empty
// library.
func LoadDir(dir string) (*Library, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return NewLibrary(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read campaign dir '%s': %w", dir, err)
	}
	var campaigns []*Campaign
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		c, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return NewLibrary(campaigns...), nil
}

// Get returns the named campaign. An empty library still serves a blank
// campaign so adventures can start without a book.
func (l *Library) Get(name string) (*Campaign, error) {
	if c, ok := l.campaigns[name]; ok {
		return c, nil
	}
	if len(l.campaigns) == 0 {
		return &Campaign{Name: name}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCampaign, name)
}

func (l *Library) Names() []string {
	names := make([]string, 0, len(l.campaigns))
	for n := range l.campaigns {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
