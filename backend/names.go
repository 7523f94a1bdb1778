package backend

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// NameGenerator produces identifiers for temporary columns and tables that
// cannot collide with user names.
type NameGenerator interface {
	Next(prefix string) string
}

// UUIDNames derives names from UUIDv7s, which sort by creation time.
// Stateless and safe for concurrent use.
type UUIDNames struct{}

// Next returns prefix followed by a hyphen-free UUIDv7.
func (UUIDNames) Next(prefix string) string {
	id := uuid.Must(uuid.NewV7()).String()
	return prefix + strings.ReplaceAll(id, "-", "")
}

// SequenceNames returns prefix_1, prefix_2, ... for deterministic output
// such as golden SQL. Safe for concurrent use.
type SequenceNames struct {
	mu  sync.Mutex
	seq int
}

// NewSequenceNames returns a generator starting at 1.
func NewSequenceNames() *SequenceNames {
	return &SequenceNames{}
}

func (g *SequenceNames) Next(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s%d", prefix, g.seq)
}

// Reset restarts the sequence.
func (g *SequenceNames) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
