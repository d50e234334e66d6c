package dispatch

import (
	"math"
	"sort"
	"strings"
)

// McpToolDoc is one indexed MCP tool, the fields search_tool_bm25 ranks
// over: `(qualified_name, server, tool, title, description, input_keys)`.
type McpToolDoc struct {
	QualifiedName string
	Server        string
	Tool          string
	Title         string
	Description   string
	InputKeys     []string
}

func (d McpToolDoc) tokens() []string {
	fields := []string{d.QualifiedName, d.Server, d.Tool, d.Title, d.Description, strings.Join(d.InputKeys, " ")}
	return tokenizeBM25(strings.Join(fields, " "))
}

func tokenizeBM25(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

// bm25 ranking constants; standard Okapi BM25 defaults.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// ToolIndex is a BM25 index over a set of MCP tool documents, hand-rolled
// (see DESIGN.md) but structured the way skill.DirSkillIndex indexes by
// name: build once, query many times, guarded by the caller.
type ToolIndex struct {
	docs    []McpToolDoc
	docFreq map[string]int
	docLens []int
	avgLen  float64
	tokens  [][]string
}

// NewToolIndex builds an index over docs.
func NewToolIndex(docs []McpToolDoc) *ToolIndex {
	idx := &ToolIndex{docs: docs, docFreq: make(map[string]int)}
	total := 0
	for _, d := range docs {
		toks := d.tokens()
		idx.tokens = append(idx.tokens, toks)
		idx.docLens = append(idx.docLens, len(toks))
		total += len(toks)
		seen := make(map[string]bool)
		for _, t := range toks {
			if !seen[t] {
				idx.docFreq[t]++
				seen[t] = true
			}
		}
	}
	if len(docs) > 0 {
		idx.avgLen = float64(total) / float64(len(docs))
	}
	return idx
}

// Scored is one ranked search hit.
type Scored struct {
	Doc   McpToolDoc
	Score float64
}

// Search ranks docs against query, returning the top k by descending BM25
// score. Documents with zero overlapping terms are excluded.
func (idx *ToolIndex) Search(query string, k int) []Scored {
	qTerms := tokenizeBM25(query)
	n := float64(len(idx.docs))
	scores := make([]Scored, 0, len(idx.docs))

	for i, doc := range idx.docs {
		score := 0.0
		termCounts := termFrequencies(idx.tokens[i])
		for _, qt := range qTerms {
			tf, ok := termCounts[qt]
			if !ok {
				continue
			}
			df := float64(idx.docFreq[qt])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := 1 - bm25B + bm25B*float64(idx.docLens[i])/idx.avgLen
			score += idf * (float64(tf) * (bm25K1 + 1)) / (float64(tf) + bm25K1*norm)
		}
		if score > 0 {
			scores = append(scores, Scored{Doc: doc, Score: score})
		}
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if k > 0 && len(scores) > k {
		scores = scores[:k]
	}
	return scores
}

func termFrequencies(tokens []string) map[string]int {
	freq := make(map[string]int, len(tokens))
	for _, t := range tokens {
		freq[t]++
	}
	return freq
}
