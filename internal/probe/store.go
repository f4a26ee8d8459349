package probe

// Store holds probes by id. Implementations need not be safe for concurrent
// use; the Registry serializes access.
type Store interface {
	GetProbe(id ID) (*Probe, bool)
	SetProbe(p *Probe)
	DeleteProbe(id ID)
	ListProbeIDs() []ID
}

// InMemoryStore is a map-backed Store.
type InMemoryStore struct {
	probes map[ID]*Probe
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{probes: make(map[ID]*Probe)}
}

func (s *InMemoryStore) GetProbe(id ID) (*Probe, bool) {
	p, ok := s.probes[id]
	return p, ok
}

func (s *InMemoryStore) SetProbe(p *Probe) {
	s.probes[p.ID] = p
}

func (s *InMemoryStore) DeleteProbe(id ID) {
	delete(s.probes, id)
}

func (s *InMemoryStore) ListProbeIDs() []ID {
	ids := make([]ID, 0, len(s.probes))
	for id := range s.probes {
		ids = append(ids, id)
	}
	return ids
}
