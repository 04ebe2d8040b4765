// Package notes defines the domain types shared by the intelligence
// components: entries, connections between entries, and named groups.
package notes

import "time"

// Category is the fixed set of entry categories.
type Category string

const (
	CategoryIdea    Category = "idea"
	CategoryTask    Category = "task"
	CategoryProject Category = "project"
	CategoryBucket  Category = "bucket"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryIdea, CategoryTask, CategoryProject, CategoryBucket:
		return true
	}
	return false
}

// Urgency is the optional task urgency level.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Valid reports whether u is one of the known urgency levels.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	}
	return false
}

// Entry is a single user-authored note, task, idea, or bucket item.
// The intelligence layer mutates Category (classification) and Score
// (priority scoring); everything else is owned by the caller.
type Entry struct {
	ID        string
	Title     string
	Body      string
	Category  Category
	CreatedAt time.Time
	UpdatedAt time.Time
	Score     float64

	Pinned    bool
	Archived  bool
	Starred   bool
	Completed bool

	// Task-specific optional fields.
	DueDate *time.Time
	Urgency Urgency

	ConnectionCount int
}

// Text returns the entry text used for classification, embedding, and
// keyword extraction: title and body joined by a blank line.
func (e *Entry) Text() string {
	if e.Title == "" {
		return e.Body
	}
	if e.Body == "" {
		return e.Title
	}
	return e.Title + "\n\n" + e.Body
}

// Connection creators.
const (
	CreatorAuto   = "auto"
	CreatorManual = "manual"
)

// DefaultRelationship is the relationship label for discovered connections.
const DefaultRelationship = "related"

// Connection is an edge between two entries. Directed in storage
// (source/target) but logically undirected for traversal.
type Connection struct {
	ID           string
	SourceID     string
	TargetID     string
	Relationship string
	Strength     float64
	CreatedBy    string
	CreatedAt    time.Time
}

// Other returns the entry on the far side of the connection from id,
// and false if id is not an endpoint.
func (c Connection) Other(id string) (string, bool) {
	switch id {
	case c.SourceID:
		return c.TargetID, true
	case c.TargetID:
		return c.SourceID, true
	}
	return "", false
}

// Group is a named set of related entries produced by a cluster engine.
// AutoGenerated distinguishes system-named groups from user-renamed ones;
// a user-renamed group's name is preserved across re-clustering runs as
// long as its membership is unchanged.
type Group struct {
	ID            string
	Name          string
	MemberIDs     []string
	Centroid      []float32
	AutoGenerated bool
	CreatedAt     time.Time
}

// Contains reports whether the group includes the given entry.
func (g Group) Contains(entryID string) bool {
	for _, id := range g.MemberIDs {
		if id == entryID {
			return true
		}
	}
	return false
}
