package booking

import (
	"sort"
	"strings"
	"sync"

	"stationbook/internal/models"
)

// keyedMutex serializes check-and-claim per (venue, room, type, date).
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*lockEntry)}
}

func slotKey(venueID, roomName, stationType, date string) string {
	return strings.Join([]string{venueID, roomName, stationType, date}, "\x00")
}

// Lock acquires every key in sorted order and returns the function that releases them.
func (k *keyedMutex) Lock(keys ...string) func() {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	uniq := sorted[:0]
	for i, key := range sorted {
		if i == 0 || key != sorted[i-1] {
			uniq = append(uniq, key)
		}
	}

	entries := make([]*lockEntry, 0, len(uniq))
	for _, key := range uniq {
		k.mu.Lock()
		e, ok := k.locks[key]
		if !ok {
			e = &lockEntry{}
			k.locks[key] = e
		}
		e.refs++
		k.mu.Unlock()

		e.mu.Lock()
		entries = append(entries, e)
	}

	return func() {
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].mu.Unlock()
		}
		k.mu.Lock()
		for i, key := range uniq {
			entries[i].refs--
			if entries[i].refs == 0 {
				delete(k.locks, key)
			}
		}
		k.mu.Unlock()
	}
}

func itemKeys(venueID, date string, items []models.LineItem) []string {
	keys := make([]string, 0, len(items))
	for _, it := range items {
		keys = append(keys, slotKey(venueID, it.RoomName, it.StationType, date))
	}
	return keys
}
