package llm

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/agenthands/tavern/internal/core/common"
)

var indexPattern = regexp.MustCompile(`\d+`)

type SimpleLLMReranker struct {
	LLM LLMClient
}

func NewSimpleLLMReranker(client LLMClient) *SimpleLLMReranker {
	return &SimpleLLMReranker{LLM: client}
}

// Rank orders docs by relevance to query. Documents the model leaves out keep
// their relative order at the end; a failed call returns the input order.
func (r *SimpleLLMReranker) Rank(ctx context.Context, query string, docs []string) ([]int, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if len(docs) == 1 {
		return []int{0}, nil
	}

	var docList strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&docList, "[%d] %s\n", i, common.Truncate(d, 200))
	}

	prompt := fmt.Sprintf(`You are a search relevance optimization system.
Query: %s

Documents:
%s
Rank the documents above based on their relevance to the query.
Output ONLY the indices of the documents in order of relevance, separated by commas.
Example: 0, 2, 1
Do not output any other text.`, query, docList.String())

	resp, err := r.LLM.Generate(ctx, prompt)
	if err != nil {
		return identity(len(docs)), nil
	}

	return parseIndices(resp, len(docs)), nil
}

func parseIndices(s string, n int) []int {
	seen := make(map[int]bool, n)
	indices := make([]int, 0, n)
	for _, m := range indexPattern.FindAllString(s, -1) {
		i, err := strconv.Atoi(m)
		if err != nil || i < 0 || i >= n || seen[i] {
			continue
		}
		seen[i] = true
		indices = append(indices, i)
	}
	for i := 0; i < n; i++ {
		if !seen[i] {
			indices = append(indices, i)
		}
	}
	return indices
}

func identity(n int) []int {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	return indices
}
