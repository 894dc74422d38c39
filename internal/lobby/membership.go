package lobby

// Memberships is an ordered multimap from application name to the lobbies a
// connection belongs to. Applications are kept in first-join order and
// lobbies within an application in join order.
//
// The set for a non-polygamous application never holds more than one lobby.
type Memberships struct {
	order []string
	sets  map[string][]*Lobby
}

func newMemberships() *Memberships {
	return &Memberships{sets: make(map[string][]*Lobby)}
}

// add records a membership of l.
//
// Postcondition: Returns ErrMultipleMembership (no state change) when l's
// application is not polygamous and a membership already exists.
func (m *Memberships) add(l *Lobby) error {
	set := m.sets[l.application]
	for _, existing := range set {
		if existing == l {
			return ErrAlreadyMember
		}
	}
	if len(set) > 0 && !l.polygamous {
		return ErrMultipleMembership
	}
	if len(set) == 0 {
		m.order = append(m.order, l.application)
	}
	m.sets[l.application] = append(set, l)
	return nil
}

// remove drops the membership of l and reports whether one existed.
func (m *Memberships) remove(l *Lobby) bool {
	set := m.sets[l.application]
	for i, existing := range set {
		if existing != l {
			continue
		}
		set = append(set[:i:i], set[i+1:]...)
		if len(set) == 0 {
			delete(m.sets, l.application)
			m.dropApplication(l.application)
		} else {
			m.sets[l.application] = set
		}
		return true
	}
	return false
}

func (m *Memberships) dropApplication(application string) {
	for i, name := range m.order {
		if name == application {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			return
		}
	}
}

// Of returns the lobbies held under application, in join order.
func (m *Memberships) Of(application string) []*Lobby {
	set := m.sets[application]
	out := make([]*Lobby, len(set))
	copy(out, set)
	return out
}

// All returns every membership, grouped by application in first-join order.
func (m *Memberships) All() []*Lobby {
	var out []*Lobby
	for _, name := range m.order {
		out = append(out, m.sets[name]...)
	}
	return out
}

// Applications returns the application names with at least one membership.
func (m *Memberships) Applications() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Len returns the total number of memberships.
func (m *Memberships) Len() int {
	n := 0
	for _, set := range m.sets {
		n += len(set)
	}
	return n
}
