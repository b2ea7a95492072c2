package eval

// ScopeID indexes a scope in the arena of one evaluation.
type ScopeID int

// NoScope is the parent of the outermost scope.
const NoScope ScopeID = -1

type scope struct {
	parent ScopeID
	vars   map[string]Value
	order  []string
}

// Scopes is an arena of lexical scopes linked by parent indices. Closures
// hold a ScopeID instead of a pointer, so scopes stay alive for as long as
// the arena does and nothing needs to track their lifetimes.
type Scopes struct {
	frames []scope
}

// Push opens a scope below parent.
func (s *Scopes) Push(parent ScopeID) ScopeID {
	s.frames = append(s.frames, scope{parent: parent, vars: map[string]Value{}})
	return ScopeID(len(s.frames) - 1)
}

// Define binds name in scope id, shadowing outer bindings.
func (s *Scopes) Define(id ScopeID, name string, v Value) {
	f := &s.frames[id]
	if _, ok := f.vars[name]; !ok {
		f.order = append(f.order, name)
	}
	f.vars[name] = v
}

// Lookup walks the parent chain of id.
func (s *Scopes) Lookup(id ScopeID, name string) (Value, bool) {
	for id != NoScope {
		f := &s.frames[id]
		if v, ok := f.vars[name]; ok {
			return v, true
		}
		id = f.parent
	}
	return None, false
}

// Assign rebinds the innermost existing binding of name.
func (s *Scopes) Assign(id ScopeID, name string, v Value) bool {
	for id != NoScope {
		f := &s.frames[id]
		if _, ok := f.vars[name]; ok {
			f.vars[name] = v
			return true
		}
		id = f.parent
	}
	return false
}

// Exports returns the bindings made directly in scope id in definition
// order.
func (s *Scopes) Exports(id ScopeID) *Dict {
	d := NewDict()
	f := &s.frames[id]
	for _, name := range f.order {
		d.Set(name, f.vars[name])
	}
	return d
}

// Len reports how many scopes were opened.
func (s *Scopes) Len() int { return len(s.frames) }
