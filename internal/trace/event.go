package trace

import (
	"github.com/roach88/ripple/internal/engine"
)

// Kind distinguishes trace events.
type Kind string

const (
	KindFlushStart Kind = "flush_start"
	KindNode       Kind = "node"
	KindFlushEnd   Kind = "flush_end"
	KindCycle      Kind = "cycle"
)

// Event is one trace record. Fields that do not apply to the kind are left
// zero and omitted from the serialized form.
type Event struct {
	Seq     int64   `json:"seq"`
	FlushID string  `json:"flush_id,omitempty"`
	Kind    Kind    `json:"kind"`
	Node    int64   `json:"node,omitempty"`
	Label   string  `json:"label,omitempty"`
	Action  string  `json:"action,omitempty"`
	Changed bool    `json:"changed,omitempty"`
	Formed  bool    `json:"formed,omitempty"`
	Members []int64 `json:"members,omitempty"`
	Steps   int     `json:"steps,omitempty"`
	Rewinds int     `json:"rewinds,omitempty"`
	Swept   int     `json:"swept,omitempty"`
	Error   string  `json:"error,omitempty"`
}

func fromFlushInfo(ev engine.FlushInfo) Event {
	return Event{Seq: ev.Seq, FlushID: ev.ID, Kind: KindFlushStart}
}

func fromNodeEvent(ev engine.NodeEvent) Event {
	return Event{
		Seq:     ev.Seq,
		FlushID: ev.FlushID,
		Kind:    KindNode,
		Node:    int64(ev.Node),
		Label:   ev.Label,
		Action:  ev.Action.String(),
		Changed: ev.Changed,
	}
}

// fromFlushResult drops the duration so traces are reproducible.
func fromFlushResult(r engine.FlushResult) Event {
	out := Event{
		Seq:     r.Seq,
		FlushID: r.ID,
		Kind:    KindFlushEnd,
		Steps:   r.Steps,
		Rewinds: r.Rewinds,
		Swept:   r.Swept,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

func fromCycleEvent(ev engine.CycleEvent) Event {
	members := make([]int64, len(ev.Members))
	for i, m := range ev.Members {
		members[i] = int64(m)
	}
	return Event{
		Seq:     ev.Seq,
		FlushID: ev.FlushID,
		Kind:    KindCycle,
		Formed:  ev.Formed,
		Members: members,
	}
}

// Object returns the event's fields as a map holding only the keys that
// would survive omitempty.
func (e Event) Object() map[string]any {
	obj := map[string]any{
		"seq":  e.Seq,
		"kind": string(e.Kind),
	}
	if e.FlushID != "" {
		obj["flush_id"] = e.FlushID
	}
	if e.Node != 0 {
		obj["node"] = e.Node
	}
	if e.Label != "" {
		obj["label"] = e.Label
	}
	if e.Action != "" {
		obj["action"] = e.Action
	}
	if e.Changed {
		obj["changed"] = true
	}
	if e.Formed {
		obj["formed"] = true
	}
	if len(e.Members) > 0 {
		members := make([]any, len(e.Members))
		for i, m := range e.Members {
			members[i] = m
		}
		obj["members"] = members
	}
	if e.Steps != 0 {
		obj["steps"] = e.Steps
	}
	if e.Rewinds != 0 {
		obj["rewinds"] = e.Rewinds
	}
	if e.Swept != 0 {
		obj["swept"] = e.Swept
	}
	if e.Error != "" {
		obj["error"] = e.Error
	}
	return obj
}

// MarshalCanonical returns the event as canonical JSON.
func (e Event) MarshalCanonical() ([]byte, error) {
	return MarshalCanonical(e.Object())
}

// MarshalEvents returns events as a canonical JSON array.
func MarshalEvents(events []Event) ([]byte, error) {
	arr := make([]any, len(events))
	for i, ev := range events {
		arr[i] = ev.Object()
	}
	return MarshalCanonical(arr)
}
