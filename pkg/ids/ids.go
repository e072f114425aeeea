package ids

import (
	"fmt"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// ExternalID returns a lexicographically sortable identifier for transactions
// created while external id auto-generation is on.
func ExternalID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Generator hands out int64 transaction and charge ids.
type Generator struct {
	node *snowflake.Node
}

// NewGenerator builds a generator for a snowflake node in [0, 1023].
func NewGenerator(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: node}, nil
}

// MustGenerator panics when nodeID is out of range.
func MustGenerator(nodeID int64) *Generator {
	g, err := NewGenerator(nodeID)
	if err != nil {
		panic(err)
	}
	return g
}

func (g *Generator) Next() int64 {
	return g.node.Generate().Int64()
}
