package registry_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-os/ktab/lib/registry"
	"github.com/halcyon-os/ktab/lib/tab"
)

type iface struct {
	TypeID uint64
}

func (iface) TabType() tab.Type { return tab.TypeRingInterface }

// addAny adds an entry and returns its type-erased handle.
func addAny(t *testing.T, table *tab.Table, typeID uint64) *tab.AnyTab {
	t.Helper()

	h, err := tab.Add(table, iface{TypeID: typeID})
	require.NoError(t, err)

	a, ok := table.LookupAny(h.ID())
	require.True(t, ok)
	h.Release()
	return a
}

func TestRegisterResolve(t *testing.T) {
	table := tab.New(tab.DefaultOptions())
	reg := registry.New()
	defer reg.Close()

	h := addAny(t, table, 42)

	require.NoError(t, reg.Register("boot/iface", h))
	assert.Equal(t, 1, reg.Len())

	// The registry holds its own reference; the caller's handle is
	// still the caller's to release.
	h.Release()

	got, ok := reg.Resolve("boot/iface")
	require.True(t, ok)
	assert.Equal(t, tab.TypeRingInterface, got.Ty())
	got.Release()

	_, ok = reg.Resolve("no/such/name")
	assert.False(t, ok)
}

func TestRegisterDuplicate(t *testing.T) {
	table := tab.New(tab.DefaultOptions())
	reg := registry.New()
	defer reg.Close()

	h1 := addAny(t, table, 1)
	defer h1.Release()
	h2 := addAny(t, table, 2)
	defer h2.Release()

	require.NoError(t, reg.Register("name", h1))
	assert.ErrorIs(t, reg.Register("name", h2), registry.ErrAlreadyRegistered)

	// The original binding is untouched.
	got, ok := reg.Resolve("name")
	require.True(t, ok)
	typed, ok := tab.As[iface](got)
	require.True(t, ok)
	typed.With(func(i *iface) { assert.Equal(t, uint64(1), i.TypeID) })
	typed.Release()
}

func TestUnregisterReleasesReference(t *testing.T) {
	table := tab.New(tab.DefaultOptions())
	reg := registry.New()

	h := addAny(t, table, 7)
	id := h.ID()

	require.NoError(t, reg.Register("name", h))
	h.Release()

	// The registry's reference alone keeps the object alive.
	got, ok := table.LookupAny(id)
	require.True(t, ok)
	got.Release()

	assert.True(t, reg.Unregister("name"))
	assert.False(t, reg.Unregister("name"))

	// Last reference gone: the id is dead.
	_, ok = table.LookupAny(id)
	assert.False(t, ok)
}

func TestNamesAndClose(t *testing.T) {
	table := tab.New(tab.DefaultOptions())
	reg := registry.New()

	ids := make([]uint64, 0, 3)
	for i := 0; i < 3; i++ {
		h := addAny(t, table, uint64(i))
		ids = append(ids, h.ID())
		require.NoError(t, reg.Register(fmt.Sprintf("iface/%d", i), h))
		h.Release()
	}

	assert.ElementsMatch(t, []string{"iface/0", "iface/1", "iface/2"}, reg.Names())

	reg.Close()
	assert.Equal(t, 0, reg.Len())
	for _, id := range ids {
		_, ok := table.LookupAny(id)
		assert.False(t, ok, "id %#x survived Close", id)
	}
}

func TestResolveRacesUnregister(t *testing.T) {
	table := tab.New(tab.DefaultOptions())
	reg := registry.New()

	const rounds = 200

	for i := 0; i < rounds; i++ {
		h := addAny(t, table, uint64(i))
		require.NoError(t, reg.Register("contended", h))
		h.Release()

		// Resolvers either get a live clone or a clean miss, never a
		// reference into a freed slot.
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if got, ok := reg.Resolve("contended"); ok {
				assert.Equal(t, tab.TypeRingInterface, got.Ty())
				got.Release()
			}
		}()
		go func() {
			defer wg.Done()
			reg.Unregister("contended")
		}()
		wg.Wait()

		reg.Unregister("contended")
	}
}
