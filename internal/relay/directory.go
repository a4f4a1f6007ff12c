package relay

import (
	"sort"
	"sync"
)

// Directory is the Room Directory: which endpoints are connected and which
// rooms each of them has joined. It is the only mutable state shared between
// endpoint handlers. All access goes through Update or View so every reader
// sees a consistent snapshot.
type Directory struct {
	mu sync.RWMutex
	t  Table
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{t: Table{
		endpoints:   make(map[string]*Endpoint),
		rooms:       make(map[string]map[string]struct{}),
		memberships: make(map[string]map[string]struct{}),
	}}
}

// Update runs fn with exclusive access to the table.
func (d *Directory) Update(fn func(t *Table)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&d.t)
}

// View runs fn with shared access to the table. fn must not mutate it.
func (d *Directory) View(fn func(t *Table)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn(&d.t)
}

// PublicRooms is a convenience snapshot of the public room listing.
func (d *Directory) PublicRooms() []string {
	var rooms []string
	d.View(func(t *Table) { rooms = t.PublicRooms() })
	return rooms
}

// Table is the directory state. Its methods are only safe inside
// Directory.Update or Directory.View.
type Table struct {
	endpoints   map[string]*Endpoint
	rooms       map[string]map[string]struct{} // room -> endpoint ids
	memberships map[string]map[string]struct{} // endpoint id -> rooms
}

// Add registers a connected endpoint with no room memberships.
func (t *Table) Add(e *Endpoint) {
	t.endpoints[e.id] = e
	if _, ok := t.memberships[e.id]; !ok {
		t.memberships[e.id] = make(map[string]struct{})
	}
}

// Endpoint looks up a connected endpoint.
func (t *Table) Endpoint(id string) *Endpoint {
	return t.endpoints[id]
}

// Join adds endpoint id to room. It reports whether membership changed;
// unknown endpoints and repeated joins are no-ops.
func (t *Table) Join(id, room string) bool {
	rooms, ok := t.memberships[id]
	if !ok {
		return false
	}
	if _, already := rooms[room]; already {
		return false
	}
	rooms[room] = struct{}{}

	members, ok := t.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		t.rooms[room] = members
	}
	members[id] = struct{}{}
	return true
}

// Remove drops an endpoint from every room and from the connected set. Rooms
// left empty are deleted. It returns the rooms the endpoint was in.
func (t *Table) Remove(id string) []string {
	left := t.RoomsOf(id)
	for _, room := range left {
		members := t.rooms[room]
		delete(members, id)
		if len(members) == 0 {
			delete(t.rooms, room)
		}
	}
	delete(t.memberships, id)
	delete(t.endpoints, id)
	return left
}

// RoomsOf returns the rooms an endpoint belongs to, sorted.
func (t *Table) RoomsOf(id string) []string {
	rooms := make([]string, 0, len(t.memberships[id]))
	for room := range t.memberships[id] {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Others returns the members of room except the endpoint with excludeID.
func (t *Table) Others(room, excludeID string) []*Endpoint {
	members := t.rooms[room]
	peers := make([]*Endpoint, 0, len(members))
	for id := range members {
		if id == excludeID {
			continue
		}
		if e, ok := t.endpoints[id]; ok {
			peers = append(peers, e)
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].id < peers[j].id })
	return peers
}

// Size returns the number of members in room.
func (t *Table) Size(room string) int {
	return len(t.rooms[room])
}

// Endpoints returns every connected endpoint.
func (t *Table) Endpoints() []*Endpoint {
	all := make([]*Endpoint, 0, len(t.endpoints))
	for _, e := range t.endpoints {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].id < all[j].id })
	return all
}

// PublicRooms lists non-empty rooms whose name is not a connected endpoint
// id, sorted by name.
func (t *Table) PublicRooms() []string {
	public := make([]string, 0, len(t.rooms))
	for room, members := range t.rooms {
		if len(members) == 0 {
			continue
		}
		if _, private := t.endpoints[room]; private {
			continue
		}
		public = append(public, room)
	}
	sort.Strings(public)
	return public
}

// Counts returns the number of connected endpoints and non-empty rooms.
func (t *Table) Counts() (endpoints, rooms int) {
	return len(t.endpoints), len(t.rooms)
}
