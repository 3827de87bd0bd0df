package ledger

import (
	"sync"

	"github.com/iho/custody/internal/domain"
)

// VersionPointer tells a store which engine may currently write to it.
// Stores never cache the answer, so repointing takes effect on the next call.
type VersionPointer interface {
	// Current is the authorized writer.
	Current() domain.WriterID
	// Upgrader is the only identity allowed to repoint.
	Upgrader() domain.WriterID
	// Set repoints to next. Callers must have checked Upgrader.
	Set(next domain.WriterID)
}

// Pointer is the in-memory VersionPointer used by stores.
type Pointer struct {
	mu       sync.RWMutex
	writer   domain.WriterID
	upgrader domain.WriterID
}

// NewPointer creates a pointer at initial, repointable only by upgrader.
func NewPointer(initial, upgrader domain.WriterID) *Pointer {
	return &Pointer{writer: initial, upgrader: upgrader}
}

// Current returns the authorized writer.
func (p *Pointer) Current() domain.WriterID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.writer
}

// Upgrader returns the identity allowed to repoint.
func (p *Pointer) Upgrader() domain.WriterID {
	return p.upgrader
}

// Set repoints the pointer.
func (p *Pointer) Set(next domain.WriterID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writer = next
}
