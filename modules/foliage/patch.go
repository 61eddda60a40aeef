package foliage

import (
	"context"
	"time"
)

// PatchState is the population state of a patch.
type PatchState int

const (
	NotPlanted PatchState = iota
	Planting
	Planted
)

func (s PatchState) String() string {
	switch s {
	case NotPlanted:
		return "not_planted"
	case Planting:
		return "planting"
	case Planted:
		return "planted"
	default:
		return "unknown"
	}
}

// Patch is the content of one leaf node for one channel.
type Patch struct {
	index   int
	node    int
	channel int

	state     PatchState
	items     []Item
	plantedAt time.Time
	buffer    *ManagedBuffer

	cancel   context.CancelFunc
	canceled bool
}

func (p *Patch) HasData() bool {
	return len(p.items) != 0
}

func (p *Patch) ReadyForDrawing() bool {
	return p.state == Planted &&
		p.HasData() &&
		p.buffer != nil &&
		p.buffer.Ready()
}

// PatchInfo is a snapshot of a patch.
type PatchInfo struct {
	Node     int        `json:"node"`
	Channel  int        `json:"channel"`
	State    PatchState `json:"-"`
	StateStr string     `json:"state"`
	Items    int        `json:"items"`
	Buffer   string     `json:"buffer,omitempty"`
	Ready    bool       `json:"ready"`
}

func (p *Patch) info() PatchInfo {
	info := PatchInfo{
		Node:     p.node,
		Channel:  p.channel,
		State:    p.state,
		StateStr: p.state.String(),
		Items:    len(p.items),
		Ready:    p.ReadyForDrawing(),
	}
	if p.buffer != nil {
		info.Buffer = p.buffer.id.String()
	}
	return info
}
