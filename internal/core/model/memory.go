package model

import (
	"sort"
	"time"
)

// MemoryState is the durable narrative memory of an adventure.
type MemoryState struct {
	StorySummary string            `json:"story_summary"`
	Notes        map[string]string `json:"notes"`
	Revision     int               `json:"revision"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func (m MemoryState) Clone() MemoryState {
	out := m
	out.Notes = make(map[string]string, len(m.Notes))
	for k, v := range m.Notes {
		out.Notes[k] = v
	}
	return out
}

// Topics returns note keys in a stable order for prompts.
func (m MemoryState) Topics() []string {
	keys := make([]string, 0, len(m.Notes))
	for k := range m.Notes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type CampaignSection struct {
	Title   string `json:"title" yaml:"title"`
	Content string `json:"content" yaml:"content"`
}
