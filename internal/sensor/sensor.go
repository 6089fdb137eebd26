// Package sensor holds the latest environment reading for the telemetry
// publisher.
//
// Acquisition lives elsewhere (a sampling loop or an external feeder);
// this package is only the hand-off point. Readers always get a copy, so
// a slow publish never holds up the sampler.
package sensor

import (
	"sync"
	"time"
)

// Snapshot is one environment reading.
type Snapshot struct {
	// Temperature in degrees Celsius.
	Temperature float64

	// Humidity is relative humidity, percent.
	Humidity float64

	// Moisture is soil moisture, percent.
	Moisture float64

	// Light reports whether ambient light is currently detected.
	Light bool

	// Taken is when the reading was captured. Zero when no reading has
	// arrived yet.
	Taken time.Time
}

// Valid reports whether the snapshot holds a real reading.
func (s Snapshot) Valid() bool {
	return !s.Taken.IsZero()
}

// Store is the shared latest-reading cell.
//
// Thread Safety:
//   - Update and Latest are safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	latest Snapshot
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Update replaces the latest reading. A zero Taken is stamped with the
// current time.
func (s *Store) Update(snap Snapshot) {
	if snap.Taken.IsZero() {
		snap.Taken = time.Now()
	}
	s.mu.Lock()
	s.latest = snap
	s.mu.Unlock()
}

// Latest returns a copy of the most recent reading. Check Valid before
// trusting the values.
func (s *Store) Latest() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}
