package session

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upscaler/internal/domain"
	"upscaler/internal/upscale"
)

func pngUpload() domain.Upload {
	// 1x1 transparent PNG.
	return domain.Upload{Data: []byte{
		0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
		0x89, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
		0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae,
		0x42, 0x60, 0x82,
	}}
}

func newTestRegistry(capacity int, ttl time.Duration, previews *upscale.MemoryPreviews) *Registry {
	return NewRegistry(capacity, ttl, func(string) *upscale.Machine {
		return upscale.NewMachine(upscale.Config{Previews: previews, Logger: zerolog.Nop()})
	})
}

func TestGetOrCreateReturnsSameMachine(t *testing.T) {
	reg := newTestRegistry(4, time.Hour, upscale.NewMemoryPreviews())
	id := NewID()

	first, created := reg.GetOrCreate(id)
	require.True(t, created)
	second, created := reg.GetOrCreate(id)
	assert.False(t, created)
	assert.Same(t, first, second)

	got, ok := reg.Get(id)
	assert.True(t, ok)
	assert.Same(t, first, got)

	_, ok = reg.Get(NewID())
	assert.False(t, ok)
}

func TestSessionsAreIndependent(t *testing.T) {
	reg := newTestRegistry(4, time.Hour, upscale.NewMemoryPreviews())
	a, _ := reg.GetOrCreate(NewID())
	b, _ := reg.GetOrCreate(NewID())

	_, err := a.SelectFile(pngUpload())
	require.NoError(t, err)
	assert.Equal(t, domain.StateReady, a.State())
	assert.Equal(t, domain.StateIdle, b.State())
}

func TestEvictionReleasesPreview(t *testing.T) {
	previews := upscale.NewMemoryPreviews()
	reg := newTestRegistry(1, time.Hour, previews)

	first, _ := reg.GetOrCreate(NewID())
	_, err := first.SelectFile(pngUpload())
	require.NoError(t, err)
	require.Equal(t, 1, previews.Len())

	reg.GetOrCreate(NewID())
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, 0, previews.Len())
}

func TestRemoveReleasesPreview(t *testing.T) {
	previews := upscale.NewMemoryPreviews()
	reg := newTestRegistry(4, time.Hour, previews)
	id := NewID()
	m, _ := reg.GetOrCreate(id)
	_, err := m.SelectFile(pngUpload())
	require.NoError(t, err)

	reg.Remove(id)
	assert.Equal(t, 0, previews.Len())
	assert.Equal(t, 0, reg.Len())
}

func TestExpiredSessionsAreDropped(t *testing.T) {
	previews := upscale.NewMemoryPreviews()
	ttl := 20 * time.Millisecond
	reg := newTestRegistry(4, ttl, previews)
	id := NewID()
	m, _ := reg.GetOrCreate(id)
	_, err := m.SelectFile(pngUpload())
	require.NoError(t, err)

	// Len and the preview count do not touch the entry, so polling them
	// cannot extend its TTL.
	time.Sleep(3 * ttl)
	require.Eventually(t, func() bool {
		return reg.Len() == 0 && previews.Len() == 0
	}, time.Second, 5*time.Millisecond)
	_, ok := reg.Get(id)
	assert.False(t, ok)
}

func TestRecreatingExpiredSessionReleasesOldPreview(t *testing.T) {
	previews := upscale.NewMemoryPreviews()
	ttl := 30 * time.Millisecond
	reg := newTestRegistry(64, ttl, previews)

	for i := 0; i < 20; i++ {
		id := NewID()
		old, _ := reg.GetOrCreate(id)
		_, err := old.SelectFile(pngUpload())
		require.NoError(t, err)

		time.Sleep(ttl + time.Millisecond)
		fresh, created := reg.GetOrCreate(id)
		require.True(t, created)
		require.NotSame(t, old, fresh)
		assert.Equal(t, 0, previews.Len(), "iteration %d", i)

		reg.Remove(id)
	}
	assert.Equal(t, 0, previews.Len())
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID(NewID()))
	assert.False(t, ValidID("not-a-session"))
	assert.False(t, ValidID(""))
}
