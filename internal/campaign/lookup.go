package campaign

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/agenthands/tavern/internal/core/model"
	"github.com/agenthands/tavern/internal/llm"
	"go.uber.org/zap"
)

// SectionSource yields the sections stored for an adventure.
type SectionSource interface {
	CampaignSections(ctx context.Context, adventureID string) ([]model.CampaignSection, error)
}

// Lookup serves the DM's lookup_campaign tool. Sections are scored by
// keyword overlap, by embedding similarity when an embedder is set, and the
// best candidates are reordered by the reranker when one is set.
type Lookup struct {
	source   SectionSource
	embedder llm.EmbedderClient
	reranker llm.RerankerClient
	logger   *zap.Logger

	mu      sync.Mutex
	vectors map[string][]float32
}

func NewLookup(source SectionSource, embedder llm.EmbedderClient, reranker llm.RerankerClient, logger *zap.Logger) *Lookup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lookup{
		source:   source,
		embedder: embedder,
		reranker: reranker,
		logger:   logger,
		vectors:  make(map[string][]float32),
	}
}

type scored struct {
	section model.CampaignSection
	score   float64
}

func (l *Lookup) Lookup(ctx context.Context, adventureID, query string, limit int) ([]model.CampaignSection, error) {
	sections, err := l.source.CampaignSections(ctx, adventureID)
	if err != nil {
		return nil, err
	}
	if len(sections) == 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 3
	}

	terms := Terms(query)
	var queryVec []float32
	if l.embedder != nil {
		if queryVec, err = l.embedder.Embed(ctx, query); err != nil {
			l.logger.Warn("query embedding failed, using keywords only", zap.Error(err))
			queryVec = nil
		}
	}

	candidates := make([]scored, 0, len(sections))
	for _, s := range sections {
		score := KeywordScore(terms, s)
		if queryVec != nil {
			if vec := l.sectionVector(ctx, adventureID, s); vec != nil {
				score = Cosine(queryVec, vec) + 0.1*score
			}
		}
		if score > 0 {
			candidates = append(candidates, scored{section: s, score: score})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > limit*3 {
		candidates = candidates[:limit*3]
	}

	if l.reranker != nil && len(candidates) > 1 {
		docs := make([]string, len(candidates))
		for i, c := range candidates {
			docs[i] = c.section.Title + ": " + c.section.Content
		}
		order, err := l.reranker.Rank(ctx, query, docs)
		if err == nil && len(order) == len(candidates) {
			reordered := make([]scored, len(order))
			for i, idx := range order {
				reordered[i] = candidates[idx]
			}
			candidates = reordered
		}
	}

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]model.CampaignSection, len(candidates))
	for i, c := range candidates {
		out[i] = c.section
	}
	return out, nil
}

func (l *Lookup) sectionVector(ctx context.Context, adventureID string, s model.CampaignSection) []float32 {
	key := adventureID + "\x00" + s.Title
	l.mu.Lock()
	vec, ok := l.vectors[key]
	l.mu.Unlock()
	if ok {
		return vec
	}
	vec, err := l.embedder.Embed(ctx, s.Title+"\n"+s.Content)
	if err != nil {
		l.logger.Debug("section embedding failed", zap.String("section", s.Title), zap.Error(err))
		return nil
	}
	l.mu.Lock()
	l.vectors[key] = vec
	l.mu.Unlock()
	return vec
}

// Terms lowercases query and keeps words of three letters or more.
func Terms(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := words[:0]
	for _, w := range words {
		if len(w) >= 3 {
			out = append(out, w)
		}
	}
	return out
}

// KeywordScore counts term hits, weighting the title double.
func KeywordScore(terms []string, s model.CampaignSection) float64 {
	title := strings.ToLower(s.Title)
	content := strings.ToLower(s.Content)
	var score float64
	for _, t := range terms {
		if strings.Contains(title, t) {
			score += 2
		}
		if strings.Contains(content, t) {
			score++
		}
	}
	return score
}

func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
