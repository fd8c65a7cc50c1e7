package storage

import "sync"

// Register is the process-wide slot pointing at the most recently
// described image. Follow-up questions are answered against whatever id
// it currently holds. The slot is deliberately global to the process and
// last-writer-wins under concurrent uploads; it is not persisted, so a
// restart forgets the latest capture.
type Register struct {
	mu sync.RWMutex
	id string
}

// NewRegister creates an empty register.
func NewRegister() *Register {
	return &Register{}
}

// Set overwrites the slot unconditionally.
func (r *Register) Set(id string) {
	r.mu.Lock()
	r.id = id
	r.mu.Unlock()
}

// Get returns the current image id, or false if no capture has been
// described since the process started.
func (r *Register) Get() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.id, r.id != ""
}
