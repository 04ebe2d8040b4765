package clustering

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/cortex/internal/keywords"
	"github.com/kalambet/cortex/internal/notes"
)

// ReconcileGroups turns raw clusters into persisted groups, preserving
// user-given names: when a new cluster's membership exactly matches an
// existing user-renamed (non-auto) group, that group's identity and
// name win over a regenerated label. Everything else is auto-named from
// the top TF-IDF keywords of its members' texts.
//
// entryText resolves an entry ID to its text for naming; unresolvable
// IDs contribute no text.
func ReconcileGroups(clusters []Cluster, existing []notes.Group, entryText func(id string) (string, bool)) []notes.Group {
	now := time.Now().UTC()
	result := make([]notes.Group, 0, len(clusters))

	for _, cluster := range clusters {
		if prior, ok := matchUserGroup(cluster.MemberIDs, existing); ok {
			prior.Centroid = cluster.Centroid
			result = append(result, prior)
			continue
		}

		name := cluster.Name
		if name == "" {
			name = autoName(cluster.MemberIDs, entryText)
		}
		result = append(result, notes.Group{
			ID:            uuid.New().String(),
			Name:          name,
			MemberIDs:     cluster.MemberIDs,
			Centroid:      cluster.Centroid,
			AutoGenerated: true,
			CreatedAt:     now,
		})
	}
	return result
}

// matchUserGroup finds an existing non-auto group whose member set
// equals the cluster's. Matching is by explicit set comparison, not
// object identity.
func matchUserGroup(memberIDs []string, existing []notes.Group) (notes.Group, bool) {
	for _, group := range existing {
		if group.AutoGenerated {
			continue
		}
		if sameMembers(memberIDs, group.MemberIDs) {
			return group, true
		}
	}
	return notes.Group{}, false
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

// autoName labels a cluster from the top two TF-IDF keywords across its
// members' texts.
func autoName(memberIDs []string, entryText func(id string) (string, bool)) string {
	if entryText == nil {
		return UnnamedGroup
	}
	sorted := append([]string(nil), memberIDs...)
	sort.Strings(sorted)

	var docs []string
	for _, id := range sorted {
		if text, ok := entryText(id); ok {
			docs = append(docs, text)
		}
	}
	top := keywords.TopKeywords(docs, 2)
	switch len(top) {
	case 0:
		return UnnamedGroup
	case 1:
		return top[0]
	default:
		return fmt.Sprintf("%s & %s", top[0], top[1])
	}
}
