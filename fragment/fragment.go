package fragment

// BodyFragment holds one fragment kind's worth of pre-encoded records
// for a single block, segment, or group. Records are stored pre-encoded
// so the scanner can concatenate the matched subset without re-encoding
// (spec.md §4.3).
type BodyFragment struct {
	ID   FragmentID
	Name string
	Data [][]byte // one entry per record, in original insertion order
}

// HeaderFragment is always fragment id 1 and is never pruned: the
// stream service includes it whenever always_include_header is set,
// and the scanner always reads it first to locate per-block record
// ranges inside a segment.
type HeaderFragment struct {
	Data []byte
}

// FragmentJoins associates a source fragment with the joins it declares
// toward other fragments (e.g. "log" -> "receipt").
type FragmentJoins struct {
	FragmentID FragmentID
	Joins      map[FragmentID]*Join
}

// JoinGroup is the segment/group-level equivalent of []FragmentJoins:
// every (source fragment, target fragment) -> Join accumulated across a
// segment's constituent blocks, the join-side counterpart to IndexGroup.
type JoinGroup struct {
	entries []FragmentJoins
}

func NewJoinGroup() *JoinGroup { return &JoinGroup{} }

// Get returns the join from sourceID to targetID, or nil if none.
func (g *JoinGroup) Get(sourceID, targetID FragmentID) *Join {
	for _, fj := range g.entries {
		if fj.FragmentID != sourceID {
			continue
		}
		if j, ok := fj.Joins[targetID]; ok {
			return j
		}
	}
	return nil
}

// Set stores (or replaces) the join from sourceID to targetID.
func (g *JoinGroup) Set(sourceID, targetID FragmentID, j *Join) {
	for i := range g.entries {
		if g.entries[i].FragmentID == sourceID {
			g.entries[i].Joins[targetID] = j
			return
		}
	}
	g.entries = append(g.entries, FragmentJoins{FragmentID: sourceID, Joins: map[FragmentID]*Join{targetID: j}})
}

func (g *JoinGroup) All() []FragmentJoins { return g.entries }

// Block is the archived, ordered tuple of fragments described in
// spec.md §3: a header, zero or more body fragments with their
// per-fragment bitmap indexes, and the joins between them.
type Block struct {
	Header  HeaderFragment
	Body    []BodyFragment
	Indexes *IndexGroup
	Joins   []FragmentJoins
}

// BodyByID returns the body fragment with the given id, or nil.
func (b *Block) BodyByID(id FragmentID) *BodyFragment {
	for i := range b.Body {
		if b.Body[i].ID == id {
			return &b.Body[i]
		}
	}
	return nil
}

// JoinFor returns the join from sourceID to targetID, or nil.
func (b *Block) JoinFor(sourceID, targetID FragmentID) *Join {
	for _, fj := range b.Joins {
		if fj.FragmentID != sourceID {
			continue
		}
		if j, ok := fj.Joins[targetID]; ok {
			return j
		}
	}
	return nil
}

// FragmentInfo declares a stable (id, name) pair for one fragment kind.
// A chain plugin returns a slice of these at startup (spec.md §6); ids
// MUST stay stable across plugin versions since they are persisted in
// every segment and group's indexes.
type FragmentInfo struct {
	ID   FragmentID
	Name string
}
