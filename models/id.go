package models

import "sync"

// A sequential id generator owned by the structure that hands out the ids.
type SequentialIDGenerator struct {
	mutex     sync.Mutex
	currentID uint32
	reusable  []uint32
}

// New returns a sequential id. The most recently reused id is returned first.
func (g *SequentialIDGenerator) New() uint32 {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if n := len(g.reusable); n != 0 {
		id := g.reusable[n-1]
		g.reusable = g.reusable[:n-1]
		return id
	}

	g.currentID++
	return g.currentID
}

// Reuse marks the given id as reusable. Reusable ids are returned in priority
// when using New. Ids that were never handed out are ignored.
func (g *SequentialIDGenerator) Reuse(id uint32) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if id == 0 || id > g.currentID {
		return
	}

	for _, r := range g.reusable {
		if r == id {
			return
		}
	}
	g.reusable = append(g.reusable, id)
}

// InUse returns the number of ids handed out and not reused.
func (g *SequentialIDGenerator) InUse() int {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return int(g.currentID) - len(g.reusable)
}
