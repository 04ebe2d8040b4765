package clustering

import (
	"context"
	"fmt"

	"github.com/kalambet/cortex/internal/embedding"
	"github.com/kalambet/cortex/internal/notes"
)

// DensityConfig holds the embedding-based engine tunables.
type DensityConfig struct {
	// Eps is the maximum cosine distance (1 − similarity) between
	// neighbors. Defaults to 0.35.
	Eps float64
	// MinPoints is the minimum neighbor count for a core point.
	// Defaults to 2.
	MinPoints int
}

func (c *DensityConfig) applyDefaults() {
	if c.Eps <= 0 {
		c.Eps = 0.35
	}
	if c.MinPoints <= 0 {
		c.MinPoints = 2
	}
}

// DensityResult is a complete partition of the corpus: every entry is
// either in a cluster or reported as noise, never silently dropped.
type DensityResult struct {
	Clusters []Cluster
	NoiseIDs []string
}

// DensityEngine groups entries by embedding distance: a point belongs
// to a cluster if it has at least MinPoints neighbors within Eps.
type DensityEngine struct {
	embedder *embedding.Embedder
	cfg      DensityConfig
}

// NewDensityEngine creates the engine over the given embedder.
func NewDensityEngine(embedder *embedding.Embedder, cfg DensityConfig) *DensityEngine {
	cfg.applyDefaults()
	return &DensityEngine{embedder: embedder, cfg: cfg}
}

// Cluster embeds the corpus and runs a density-based grouping over the
// vectors. Embedding failure propagates: embeddings are a hard
// precondition for this engine.
func (e *DensityEngine) Cluster(ctx context.Context, entries []notes.Entry) (DensityResult, error) {
	if len(entries) == 0 {
		return DensityResult{}, nil
	}

	texts := make([]string, len(entries))
	for i, entry := range entries {
		texts[i] = entry.Text()
	}
	vectors, err := e.embedder.EmbedAll(ctx, texts)
	if err != nil {
		return DensityResult{}, fmt.Errorf("embedding corpus: %w", err)
	}

	neighbors := e.neighborLists(vectors)

	const (
		unvisited = -2
		noise     = -1
	)
	labels := make([]int, len(entries))
	for i := range labels {
		labels[i] = unvisited
	}

	clusterID := 0
	for i := range entries {
		if labels[i] != unvisited {
			continue
		}
		if len(neighbors[i]) < e.cfg.MinPoints {
			labels[i] = noise
			continue
		}

		// Expand a new cluster from this core point.
		labels[i] = clusterID
		frontier := append([]int(nil), neighbors[i]...)
		for len(frontier) > 0 {
			j := frontier[0]
			frontier = frontier[1:]
			if labels[j] == noise {
				labels[j] = clusterID // border point
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = clusterID
			if len(neighbors[j]) >= e.cfg.MinPoints {
				frontier = append(frontier, neighbors[j]...)
			}
		}
		clusterID++
	}

	result := DensityResult{}
	members := make([][]int, clusterID)
	for i, label := range labels {
		if label == noise {
			result.NoiseIDs = append(result.NoiseIDs, entries[i].ID)
			continue
		}
		members[label] = append(members[label], i)
	}
	for _, idxs := range members {
		ids := make([]string, len(idxs))
		for i, idx := range idxs {
			ids[i] = entries[idx].ID
		}
		result.Clusters = append(result.Clusters, Cluster{
			MemberIDs: ids,
			Centroid:  centroid(vectors, idxs),
		})
	}
	return result, nil
}

// neighborLists computes, for each vector, the indices of other vectors
// within Eps cosine distance.
func (e *DensityEngine) neighborLists(vectors [][]float32) [][]int {
	neighbors := make([][]int, len(vectors))
	for i := range vectors {
		for j := i + 1; j < len(vectors); j++ {
			if embedding.CosineDistance(vectors[i], vectors[j]) <= e.cfg.Eps {
				neighbors[i] = append(neighbors[i], j)
				neighbors[j] = append(neighbors[j], i)
			}
		}
	}
	return neighbors
}

// centroid returns the mean vector of the given members.
func centroid(vectors [][]float32, idxs []int) []float32 {
	if len(idxs) == 0 {
		return nil
	}
	dim := len(vectors[idxs[0]])
	sum := make([]float32, dim)
	for _, idx := range idxs {
		for i, v := range vectors[idx] {
			sum[i] += v
		}
	}
	for i := range sum {
		sum[i] /= float32(len(idxs))
	}
	return sum
}
