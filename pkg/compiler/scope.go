package compiler

// Scope assigns frame-relative slots to variable names during code
// generation. Each function body gets a fresh Scope. Nested scopes share
// the enclosing frame through the parent link, so slot numbering always
// runs through the chain root.
//
// Declaring a name that already exists binds it to a brand new slot. The
// old slot stays allocated but becomes unreachable, which keeps every
// address handed out earlier stable for the lifetime of the frame.
type Scope struct {
	parent *Scope
	slots  map[string]int
	next   int // next free slot index; only meaningful on the chain root
}

// NewScope returns an empty scope. A nil parent starts a new frame;
// a non-nil parent shares the parent's frame.
func NewScope(parent *Scope) *Scope {
	return &Scope{parent: parent, slots: make(map[string]int)}
}

// root returns the scope that owns the frame's slot counter.
func (s *Scope) root() *Scope {
	r := s
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// Declare binds name to a fresh slot and returns the slot index.
// Re-declaring an existing name allocates a new slot rather than
// reusing the old one.
func (s *Scope) Declare(name string) int {
	r := s.root()
	slot := r.next
	r.next++
	s.slots[name] = slot
	return slot
}

// Lookup resolves name to its slot, searching enclosing scopes through
// the parent chain.
func (s *Scope) Lookup(name string) (int, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if slot, ok := sc.slots[name]; ok {
			return slot, true
		}
	}
	return 0, false
}

// Size reports how many slots the frame needs, counting every
// declaration made anywhere in the chain.
func (s *Scope) Size() int {
	return s.root().next
}
