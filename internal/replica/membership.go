package replica

// Membership is the locally known cluster configuration (spec §3): the
// ordered set of primaries (which vote in quorums), the ordered set of
// replicas (which receive commits and serve dirty reads but never vote),
// and the write quorum size W. Like Store and LockTable it is mutated
// only through the RequestHandler's serializer, so a SetNodes racing an
// in-flight coordinator fan-out simply resolves to whatever each RPC call
// observes — spec §9 leaves this underspecified on purpose.
type Membership struct {
	Primaries []Node
	Replicas  []Node
	W         int
}

// Clone returns a defensive copy, since []Node slices are shared
// otherwise.
func (m Membership) Clone() Membership {
	out := Membership{W: m.W}
	out.Primaries = append([]Node(nil), m.Primaries...)
	out.Replicas = append([]Node(nil), m.Replicas...)
	return out
}

// IsReplicaMember reports whether id is a member of the replica set. Used
// by ExtendLease's "replica creates on extend" rule (spec §4.5).
func (m Membership) IsReplicaMember(id NodeID) bool {
	for _, n := range m.Replicas {
		if n.ID == id {
			return true
		}
	}
	return false
}

// AllNodes returns primaries ∪ replicas, the phase-2 broadcast target.
func (m Membership) AllNodes() []Node {
	out := make([]Node, 0, len(m.Primaries)+len(m.Replicas))
	out = append(out, m.Primaries...)
	out = append(out, m.Replicas...)
	return out
}

func removeNodeID(nodes []Node, id NodeID) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if n.ID != id {
			out = append(out, n)
		}
	}
	return out
}
