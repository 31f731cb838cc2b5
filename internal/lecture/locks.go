package lecture

import "sync"

// lockTable hands out one mutex per lecture id so hypothesis
// read-modify-write cycles on the same lecture never interleave.
// Entries are never evicted; a mutex is a few words and lecture ids
// are bounded by what the deployment actually teaches.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

func (t *lockTable) forLecture(id string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[id]
	if !ok {
		l = &sync.Mutex{}
		t.locks[id] = l
	}
	return l
}
