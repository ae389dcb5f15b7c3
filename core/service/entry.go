package service

import "slices"

// UUID identifies a service globally.
type UUID = string

// GlobalLocation is used in place of a room for services that are not bound to one.
const GlobalLocation = "global"

// UnInitServiceEntry describes a service that has not been assigned an identity yet.
type UnInitServiceEntry struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
}

// ServiceEntry is the persisted description of a service and the services it consumes data from.
// DependsOn models consumer -> producer edges; the resulting graph is expected to be acyclic.
type ServiceEntry struct {
	UUID      UUID   `json:"uuid"`
	Type      string `json:"type"`
	Room      string `json:"room,omitempty"`
	DependsOn []UUID `json:"depends"`
}

// Location returns the room of the entry, or "global" if it has none.
func (e *ServiceEntry) Location() string {
	if e.Room == "" {
		return GlobalLocation
	}
	return e.Room
}

// Clone returns a deep copy so callers never alias storage-owned memory.
func (e *ServiceEntry) Clone() *ServiceEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.DependsOn = slices.Clone(e.DependsOn)
	if c.DependsOn == nil {
		c.DependsOn = []UUID{}
	}
	return &c
}

// DependsOnService reports whether the entry lists uuid as a dependency.
func (e *ServiceEntry) DependsOnService(uuid UUID) bool {
	return slices.Contains(e.DependsOn, uuid)
}
