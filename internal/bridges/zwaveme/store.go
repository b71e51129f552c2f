package zwaveme

import (
	"cmp"
	"slices"
	"sync"
)

// DeviceStore is the set of devices known from the last snapshot plus any
// discovered since. It is written from the dispatch goroutine and read from
// anywhere.
//
// Two views are kept: the ids the hub has reported (including hidden devices
// and those outside the platform allow-list, so they are not re-requested on
// every namespace update) and the canonical records of the accepted ones.
type DeviceStore struct {
	mu      sync.RWMutex
	known   map[string]struct{}
	devices map[string]Device
}

// NewDeviceStore creates an empty store.
func NewDeviceStore() *DeviceStore {
	return &DeviceStore{
		known:   make(map[string]struct{}),
		devices: make(map[string]Device),
	}
}

// Replace swaps the whole set for a new snapshot.
// ids lists every reported id; devices holds the visible records.
func (s *DeviceStore) Replace(ids []string, devices []Device) {
	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	byID := make(map[string]Device, len(devices))
	for _, d := range devices {
		known[d.ID] = struct{}{}
		byID[d.ID] = d
	}

	s.mu.Lock()
	s.known = known
	s.devices = byID
	s.mu.Unlock()
}

// Put adds or replaces a visible device.
func (s *DeviceStore) Put(d Device) {
	s.mu.Lock()
	s.known[d.ID] = struct{}{}
	s.devices[d.ID] = d
	s.mu.Unlock()
}

// Remember records an id without a visible record (hidden or excluded devices).
func (s *DeviceStore) Remember(id string) {
	s.mu.Lock()
	s.known[id] = struct{}{}
	s.mu.Unlock()
}

// Update replaces a device only if it is already present.
func (s *DeviceStore) Update(d Device) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[d.ID]; !ok {
		return false
	}
	s.devices[d.ID] = d
	return true
}

// Remove forgets a device. It reports whether the id was known.
func (s *DeviceStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.known[id]
	delete(s.known, id)
	delete(s.devices, id)
	return ok
}

// Get returns a visible device by id.
func (s *DeviceStore) Get(id string) (Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	return d, ok
}

// List returns the visible devices sorted by id.
func (s *DeviceStore) List() []Device {
	s.mu.RLock()
	out := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Device) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Len returns the number of visible devices.
func (s *DeviceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}

// Known reports whether the hub has reported the id.
func (s *DeviceStore) Known(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.known[id]
	return ok
}

// Unknown returns the ids not yet known, deduplicated and sorted.
func (s *DeviceStore) Unknown(ids []string) []string {
	s.mu.RLock()
	var out []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.known[id]; !ok {
			out = append(out, id)
		}
	}
	s.mu.RUnlock()

	slices.Sort(out)
	return slices.Compact(out)
}
