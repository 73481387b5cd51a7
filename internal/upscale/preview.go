package upscale

import (
	"sync"

	"github.com/google/uuid"
)

// PreviewStore holds the local preview of an uploaded asset until it is released.
type PreviewStore interface {
	Put(data []byte, mime string) string
	Get(ref string) ([]byte, string, bool)
	Release(ref string)
}

type preview struct {
	data []byte
	mime string
}

// MemoryPreviews is a process-local PreviewStore.
type MemoryPreviews struct {
	mu    sync.RWMutex
	items map[string]preview
}

func NewMemoryPreviews() *MemoryPreviews {
	return &MemoryPreviews{items: make(map[string]preview)}
}

func (p *MemoryPreviews) Put(data []byte, mime string) string {
	ref := uuid.NewString()
	p.mu.Lock()
	p.items[ref] = preview{data: data, mime: mime}
	p.mu.Unlock()
	return ref
}

func (p *MemoryPreviews) Get(ref string) ([]byte, string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	item, ok := p.items[ref]
	return item.data, item.mime, ok
}

func (p *MemoryPreviews) Release(ref string) {
	if ref == "" {
		return
	}
	p.mu.Lock()
	delete(p.items, ref)
	p.mu.Unlock()
}

// Len reports how many previews are held.
func (p *MemoryPreviews) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}
