package frontchat

import "sort"

// PresenceSet tracks the online flag per user. The last update for a user
// wins. It is not safe for concurrent use; owners guard it with their lock.
type PresenceSet struct {
	online map[ID]bool
}

func NewPresenceSet() *PresenceSet {
	return &PresenceSet{online: make(map[ID]bool)}
}

// Reset replaces the set with a membership snapshot. Everyone not listed is
// considered offline.
func (p *PresenceSet) Reset(members []ID) {
	p.online = make(map[ID]bool, len(members))
	for _, id := range members {
		p.online[id] = true
	}
}

// Set records one join or leave.
func (p *PresenceSet) Set(id ID, online bool) {
	if p.online == nil {
		p.online = make(map[ID]bool)
	}
	if online {
		p.online[id] = true
	} else {
		delete(p.online, id)
	}
}

// Online reports whether id is currently online.
func (p *PresenceSet) Online(id ID) bool {
	return p.online[id]
}

// IDs returns the online members in ascending order.
func (p *PresenceSet) IDs() []ID {
	ids := make([]ID, 0, len(p.online))
	for id := range p.online {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (p *PresenceSet) Len() int { return len(p.online) }

// Clear forgets everyone.
func (p *PresenceSet) Clear() {
	p.online = make(map[ID]bool)
}
