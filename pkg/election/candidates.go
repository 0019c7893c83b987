package election

// candidateRegistry stores candidates in an arena indexed by id-1.
// byName mirrors the arena for exact, case-sensitive name lookups.
type candidateRegistry struct {
	list   []Candidate
	byName map[string]uint64
}

func newCandidateRegistry() *candidateRegistry {
	return &candidateRegistry{
		byName: make(map[string]uint64),
	}
}

func (r *candidateRegistry) count() int {
	return len(r.list)
}

func (r *candidateRegistry) nextID() uint64 {
	return uint64(len(r.list)) + 1
}

func (r *candidateRegistry) hasName(name string) bool {
	_, exists := r.byName[name]
	return exists
}

func (r *candidateRegistry) validID(id uint64) bool {
	return id >= 1 && id <= uint64(len(r.list))
}

func (r *candidateRegistry) add(name string) Candidate {
	c := Candidate{ID: r.nextID(), Name: name}
	r.list = append(r.list, c)
	r.byName[name] = c.ID
	return c
}

func (r *candidateRegistry) get(id uint64) (Candidate, bool) {
	if !r.validID(id) {
		return Candidate{}, false
	}
	return r.list[id-1], true
}

func (r *candidateRegistry) increment(id uint64) {
	r.list[id-1].VoteCount++
}

func (r *candidateRegistry) all() []Candidate {
	out := make([]Candidate, len(r.list))
	copy(out, r.list)
	return out
}

func (r *candidateRegistry) totalVotes() uint64 {
	var total uint64
	for _, c := range r.list {
		total += c.VoteCount
	}
	return total
}

// clear reinitializes the arena; ids restart at 1
func (r *candidateRegistry) clear() {
	r.list = nil
	r.byName = make(map[string]uint64)
}

func (r *candidateRegistry) load(candidates []Candidate) {
	r.clear()
	for _, c := range candidates {
		r.list = append(r.list, c)
		r.byName[c.Name] = c.ID
	}
}
