// Package clustering groups related entries into named clusters using
// two independent strategies: a keyword-affinity graph that needs no
// embeddings, and a density-based grouping over embedding vectors.
package clustering

import (
	"fmt"
	"sort"

	"github.com/kalambet/cortex/internal/keywords"
	"github.com/kalambet/cortex/internal/notes"
)

// UnnamedGroup is the label used when no keywords can be extracted for
// a cluster name.
const UnnamedGroup = "Unnamed Group"

// Cluster is one discovered group of entries before reconciliation
// against persisted groups.
type Cluster struct {
	MemberIDs []string
	Name      string
	Centroid  []float32
}

// KeywordConfig holds the keyword-affinity engine tunables.
type KeywordConfig struct {
	// AffinityThreshold is the minimum keyword-set intersection size
	// for an edge between two entries. Defaults to 2.
	AffinityThreshold int
}

// ClusterByKeywords builds a keyword set per entry and groups entries
// by connected components: an edge exists when two entries share at
// least AffinityThreshold keywords. Components of size >= 2 become
// clusters, named after the two most frequent keywords across the
// component. Requires no embeddings and never errors.
func ClusterByKeywords(entries []notes.Entry, cfg KeywordConfig) []Cluster {
	if cfg.AffinityThreshold <= 0 {
		cfg.AffinityThreshold = 2
	}
	if len(entries) == 0 {
		return nil
	}

	sets := make([]map[string]struct{}, len(entries))
	for i, e := range entries {
		sets[i] = keywords.KeywordSet(e.Text())
	}

	// Breadth-first connected-components traversal.
	visited := make([]bool, len(entries))
	var clusters []Cluster
	for start := range entries {
		if visited[start] {
			continue
		}
		component := []int{start}
		visited[start] = true
		queue := []int{start}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			for next := range entries {
				if visited[next] {
					continue
				}
				if intersectionSize(sets[current], sets[next]) >= cfg.AffinityThreshold {
					visited[next] = true
					component = append(component, next)
					queue = append(queue, next)
				}
			}
		}

		if len(component) < 2 {
			continue
		}
		sort.Ints(component)
		memberIDs := make([]string, len(component))
		for i, idx := range component {
			memberIDs[i] = entries[idx].ID
		}
		clusters = append(clusters, Cluster{
			MemberIDs: memberIDs,
			Name:      nameFromFrequency(component, sets),
		})
	}
	return clusters
}

func intersectionSize(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			n++
		}
	}
	return n
}

// nameFromFrequency names a component after its top two most frequent
// keywords ("x & y"), falling back to UnnamedGroup.
func nameFromFrequency(component []int, sets []map[string]struct{}) string {
	freq := make(map[string]int)
	for _, idx := range component {
		for tok := range sets[idx] {
			freq[tok]++
		}
	}
	if len(freq) == 0 {
		return UnnamedGroup
	}

	terms := make([]string, 0, len(freq))
	for tok := range freq {
		terms = append(terms, tok)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})

	if len(terms) == 1 {
		return terms[0]
	}
	return fmt.Sprintf("%s & %s", terms[0], terms[1])
}
