package topology

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Topology answers questions about the physical layout of the cluster
type Topology interface {
	// IsRealNode reports whether name denotes a node that exists in the cluster
	IsRealNode(name string) bool
	// Siblings returns the other nodes sharing name's card, sorted
	Siblings(name string) []string
	// Cousins returns the other nodes sharing name's blade, sorted.
	// Siblings are a subset of cousins.
	Cousins(name string) []string
}

// NodeType describes a contiguous, uniformly packed range of node names such
// as dec0001..dec2488 with 2 nodes per card and 8 nodes per blade.
type NodeType struct {
	Name      string `mapstructure:"name" yaml:"name"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
	Digits    int    `mapstructure:"digits" yaml:"digits"`
	First     int    `mapstructure:"first" yaml:"first"`
	Last      int    `mapstructure:"last" yaml:"last"`
	CardSize  int    `mapstructure:"card_size" yaml:"card_size"`
	BladeSize int    `mapstructure:"blade_size" yaml:"blade_size"`
}

// Validate checks that the node type is well formed
func (nt NodeType) Validate() error {
	switch {
	case nt.Prefix == "":
		return fmt.Errorf("node type %q: prefix is required", nt.Name)
	case nt.Digits <= 0:
		return fmt.Errorf("node type %q: digits must be positive", nt.Name)
	case nt.First < 0 || nt.Last < nt.First:
		return fmt.Errorf("node type %q: invalid range %d..%d", nt.Name, nt.First, nt.Last)
	case nt.CardSize <= 0:
		return fmt.Errorf("node type %q: card_size must be positive", nt.Name)
	case nt.BladeSize < nt.CardSize || nt.BladeSize%nt.CardSize != 0:
		return fmt.Errorf("node type %q: blade_size must be a multiple of card_size", nt.Name)
	}
	if len(strconv.Itoa(nt.Last)) > nt.Digits {
		return fmt.Errorf("node type %q: last %d does not fit in %d digits", nt.Name, nt.Last, nt.Digits)
	}
	return nil
}

// number extracts the node number from name, or false if name is not of this type
func (nt NodeType) number(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, nt.Prefix)
	if !ok || len(rest) != nt.Digits {
		return 0, false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < nt.First || n > nt.Last {
		return 0, false
	}
	return n, true
}

func (nt NodeType) nodeName(n int) string {
	return fmt.Sprintf("%s%0*d", nt.Prefix, nt.Digits, n)
}

// group returns every node other than n within the size-aligned block containing n
func (nt NodeType) group(n, size int) []string {
	start := nt.First + ((n-nt.First)/size)*size
	end := start + size - 1
	if end > nt.Last {
		end = nt.Last
	}
	names := make([]string, 0, end-start)
	for i := start; i <= end; i++ {
		if i != n {
			names = append(names, nt.nodeName(i))
		}
	}
	return names
}

// RangeTopology is a Topology built from a list of node types
type RangeTopology struct {
	types []NodeType
}

// NewRangeTopology creates a topology from node type definitions
func NewRangeTopology(types []NodeType) (*RangeTopology, error) {
	for _, nt := range types {
		if err := nt.Validate(); err != nil {
			return nil, err
		}
	}
	return &RangeTopology{types: types}, nil
}

func (t *RangeTopology) lookup(name string) (NodeType, int, bool) {
	for _, nt := range t.types {
		if n, ok := nt.number(name); ok {
			return nt, n, true
		}
	}
	return NodeType{}, 0, false
}

// IsRealNode reports whether name belongs to any configured node type
func (t *RangeTopology) IsRealNode(name string) bool {
	_, _, ok := t.lookup(name)
	return ok
}

// NodeType returns the name of the node type name belongs to
func (t *RangeTopology) NodeType(name string) (string, bool) {
	nt, _, ok := t.lookup(name)
	return nt.Name, ok
}

// Nodes returns every real node, grouped by node type in configured order
func (t *RangeTopology) Nodes() []string {
	var names []string
	for _, nt := range t.types {
		for n := nt.First; n <= nt.Last; n++ {
			names = append(names, nt.nodeName(n))
		}
	}
	return names
}

// Siblings returns the other nodes on name's card
func (t *RangeTopology) Siblings(name string) []string {
	nt, n, ok := t.lookup(name)
	if !ok {
		return nil
	}
	return nt.group(n, nt.CardSize)
}

// Cousins returns the other nodes on name's blade
func (t *RangeTopology) Cousins(name string) []string {
	nt, n, ok := t.lookup(name)
	if !ok {
		return nil
	}
	return nt.group(n, nt.BladeSize)
}

// Static is a Topology defined by explicit groups, useful for small or
// irregular clusters. Every node listed in any group is real.
type Static struct {
	siblings map[string][]string
	cousins  map[string][]string
	nodes    map[string]bool
}

// NewStatic builds a topology from card groups and blade groups. A card's
// members are always cousins of each other, whether or not the card is
// listed inside a blade.
func NewStatic(cards, blades [][]string) *Static {
	s := &Static{
		siblings: make(map[string][]string),
		cousins:  make(map[string][]string),
		nodes:    make(map[string]bool),
	}
	index := func(groups [][]string, into map[string][]string) {
		for _, g := range groups {
			for _, n := range g {
				s.nodes[n] = true
				for _, peer := range g {
					if peer != n {
						into[n] = append(into[n], peer)
					}
				}
			}
		}
	}
	index(cards, s.siblings)
	index(blades, s.cousins)
	for n := range s.nodes {
		s.siblings[n] = dedup(s.siblings[n])
		s.cousins[n] = dedup(append(s.cousins[n], s.siblings[n]...))
	}
	return s
}

// dedup sorts names and drops repeats
func dedup(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	out := names[:1]
	for _, n := range names[1:] {
		if n != out[len(out)-1] {
			out = append(out, n)
		}
	}
	return out
}

// IsRealNode reports whether name appears in any group
func (s *Static) IsRealNode(name string) bool {
	return s.nodes[name]
}

// Siblings returns the other members of name's card group
func (s *Static) Siblings(name string) []string {
	return s.siblings[name]
}

// Cousins returns the other members of name's blade group
func (s *Static) Cousins(name string) []string {
	return s.cousins[name]
}
