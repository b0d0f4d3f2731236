package chunkstore

import (
	"strconv"
	"sync/atomic"
)

// DefaultBaseName names the first store created from the default Namer.
const DefaultBaseName = "chunk_store"

// Namer hands out namespace ordinals and derives database names from them.
// Ordinals start at zero, only grow, and are never reused.
type Namer struct {
	base string
	next atomic.Uint64
}

// NewNamer returns a Namer whose first name is base.
func NewNamer(base string) *Namer {
	if base == "" {
		base = DefaultBaseName
	}
	return &Namer{base: base}
}

// Base returns the name given to ordinal zero.
func (n *Namer) Base() string { return n.base }

// Next assigns the next ordinal and returns it with its name.
func (n *Namer) Next() (uint64, string) {
	ordinal := n.next.Add(1) - 1
	return ordinal, DatabaseName(n.base, ordinal)
}

// DatabaseName is base for ordinal zero and base_<ordinal> otherwise.
func DatabaseName(base string, ordinal uint64) string {
	if ordinal == 0 {
		return base
	}
	return base + "_" + strconv.FormatUint(ordinal, 10)
}

var defaultNamer = NewNamer(DefaultBaseName)
