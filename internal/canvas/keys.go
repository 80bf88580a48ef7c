package canvas

// EdgeKey identifies a directed connection between two nodes.
type EdgeKey struct {
	From string
	To   string
}

// EdgeKeys is a set of directed connections, derived from an edge list.
type EdgeKeys map[EdgeKey]struct{}

// NewEdgeKeys builds the set from edges.
func NewEdgeKeys(edges []Edge) EdgeKeys {
	k := make(EdgeKeys, len(edges))
	for _, e := range edges {
		k.Add(e.FromNode, e.ToNode)
	}
	return k
}

// Has reports whether a from→to connection exists.
func (k EdgeKeys) Has(from, to string) bool {
	_, ok := k[EdgeKey{From: from, To: to}]
	return ok
}

// Add records a from→to connection.
func (k EdgeKeys) Add(from, to string) {
	k[EdgeKey{From: from, To: to}] = struct{}{}
}
