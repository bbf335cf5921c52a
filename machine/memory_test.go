package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryManager_AddSlotRejectsOverlap(t *testing.T) {
	m := NewMemoryManager()
	require.NoError(t, m.AddSlot(MemorySlot{Begin: 0x1000, End: 0x2000, Type: MemoryTypeRAM}))
	assert.ErrorIs(t, m.AddSlot(MemorySlot{Begin: 0x1800, End: 0x2800, Type: MemoryTypeRAM}), ErrMemoryConflict)
}

func TestMemoryManager_FlatViewStaysSortedByBegin(t *testing.T) {
	m := NewMemoryManager()
	require.NoError(t, m.AddSlot(MemorySlot{Begin: 0x3000, End: 0x4000, Type: MemoryTypeRAM}))
	require.NoError(t, m.AddSlot(MemorySlot{Begin: 0x1000, End: 0x2000, Type: MemoryTypeRAM}))

	view := m.GetMemoryFlatView()
	require.Len(t, view, 2)
	assert.Equal(t, uint64(0x1000), view[0].Begin)
	assert.Equal(t, uint64(0x3000), view[1].Begin)
}

func TestMemoryManager_ListenerSeesAddAndRemove(t *testing.T) {
	m := NewMemoryManager()
	var events []bool
	m.RegisterMemoryListener(func(slot MemorySlot, added bool) {
		events = append(events, added)
	})

	require.NoError(t, m.AddSlot(MemorySlot{Begin: 0x1000, End: 0x2000, Type: MemoryTypeRAM}))
	require.NoError(t, m.RemoveSlot(0x1000))

	require.Equal(t, []bool{true, false}, events)
}

func TestMemoryManager_UnregisterStopsFurtherNotifications(t *testing.T) {
	m := NewMemoryManager()
	calls := 0
	sub := m.RegisterMemoryListener(func(slot MemorySlot, added bool) { calls++ })
	m.UnregisterMemoryListener(sub)

	require.NoError(t, m.AddSlot(MemorySlot{Begin: 0x1000, End: 0x2000, Type: MemoryTypeRAM}))
	assert.Equal(t, 0, calls)
}

func TestMemoryManager_RemoveSlotNotFound(t *testing.T) {
	m := NewMemoryManager()
	assert.ErrorIs(t, m.RemoveSlot(0x9000), ErrMemoryNotFound)
}
