package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/lanwake/internal/infrastructure/config"
	"github.com/nerrad567/lanwake/internal/infrastructure/database"
	"github.com/nerrad567/lanwake/internal/kvstore"
	"github.com/nerrad567/lanwake/internal/macaddr"
	"github.com/nerrad567/lanwake/migrations"
)

// memRepo is an in-memory Repository with injectable failures.
type memRepo struct {
	mu      sync.Mutex
	macs    []macaddr.MAC
	saves   int
	failErr error
}

func (m *memRepo) Load(context.Context) ([]macaddr.MAC, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]macaddr.MAC(nil), m.macs...), m.failErr
}

func (m *memRepo) Save(_ context.Context, macs []macaddr.MAC) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.saves++
	m.macs = append([]macaddr.MAC(nil), macs...)
	return nil
}

func (m *memRepo) Erase(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.macs = nil
	return nil
}

func macN(n int) macaddr.MAC {
	return macaddr.MAC{0x02, 0x00, 0x00, 0x00, byte(n >> 8), byte(n)}
}

func TestRegistry_AddPersistsBeforeReporting(t *testing.T) {
	repo := &memRepo{}
	r := New(repo, 4)
	ctx := context.Background()

	res, err := r.Add(ctx, macN(1))
	require.NoError(t, err)
	assert.Equal(t, Added, res)
	assert.Equal(t, []macaddr.MAC{macN(1)}, repo.macs)
	assert.True(t, r.Contains(macN(1)))
}

func TestRegistry_AddIsIdempotent(t *testing.T) {
	repo := &memRepo{}
	r := New(repo, 4)
	ctx := context.Background()

	_, err := r.Add(ctx, macN(1))
	require.NoError(t, err)
	res, err := r.Add(ctx, macN(1))
	require.NoError(t, err)

	assert.Equal(t, AlreadyPresent, res)
	assert.Equal(t, 1, repo.saves, "duplicate add must not write")
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_CapacityExceeded(t *testing.T) {
	repo := &memRepo{}
	r := New(repo, 2)
	ctx := context.Background()

	for i := range 2 {
		_, err := r.Add(ctx, macN(i))
		require.NoError(t, err)
	}

	res, err := r.Add(ctx, macN(99))
	require.NoError(t, err)
	assert.Equal(t, CapacityExceeded, res)
	assert.Equal(t, 2, repo.saves)
	assert.False(t, r.Contains(macN(99)))
	assert.Equal(t, []macaddr.MAC{macN(0), macN(1)}, r.List())
}

func TestRegistry_FailedWriteLeavesMemoryUnchanged(t *testing.T) {
	repo := &memRepo{}
	r := New(repo, 4)
	ctx := context.Background()

	_, err := r.Add(ctx, macN(1))
	require.NoError(t, err)

	repo.failErr = errors.New("disk full")
	res, err := r.Add(ctx, macN(2))
	require.ErrorIs(t, err, ErrPersist)
	assert.Equal(t, NotAdded, res)

	assert.False(t, r.Contains(macN(2)))
	assert.Equal(t, []macaddr.MAC{macN(1)}, r.List())

	err = r.Clear(ctx)
	require.ErrorIs(t, err, ErrPersist)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RejectsInvalidAddresses(t *testing.T) {
	r := New(&memRepo{}, 4)

	for _, mac := range []macaddr.MAC{{}, macaddr.Broadcast} {
		res, err := r.Add(context.Background(), mac)
		assert.ErrorIs(t, err, ErrInvalidMAC)
		assert.Equal(t, NotAdded, res, "an error never reports %s", mac)
	}
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_Clear(t *testing.T) {
	repo := &memRepo{}
	r := New(repo, 4)
	ctx := context.Background()

	_, err := r.Add(ctx, macN(1))
	require.NoError(t, err)
	require.NoError(t, r.Clear(ctx))

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, repo.macs)
}

func TestRegistry_LoadSkipsInvalidAndOverflow(t *testing.T) {
	repo := &memRepo{macs: []macaddr.MAC{macN(1), {}, macN(2), macN(3)}}
	r := New(repo, 2)

	require.NoError(t, r.Load(context.Background()))
	assert.Equal(t, []macaddr.MAC{macN(1), macN(2)}, r.List())
}

func TestRegistry_LoadError(t *testing.T) {
	r := New(&memRepo{failErr: errors.New("io")}, 2)
	assert.Error(t, r.Load(context.Background()))
}

func TestRegistry_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(&memRepo{}, 0).Cap())
}

func TestRegistry_ConcurrentAdds(t *testing.T) {
	repo := &memRepo{}
	r := New(repo, 64)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = r.Add(ctx, macN(n%16)) //nolint:errcheck // Asserted below
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 16, r.Len())
	assert.Len(t, repo.macs, 16)
}

func newKVRepo(t *testing.T) *KVRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "registry.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	require.NoError(t, db.Migrate(ctx, migrations.FS))

	return NewKVRepository(kvstore.New(db))
}

func TestKVRepository_SurvivesReload(t *testing.T) {
	repo := newKVRepo(t)
	ctx := context.Background()

	first := New(repo, 32)
	require.NoError(t, first.Load(ctx))
	for i := range 3 {
		_, err := first.Add(ctx, macN(i))
		require.NoError(t, err)
	}

	second := New(repo, 32)
	require.NoError(t, second.Load(ctx))
	assert.Equal(t, first.List(), second.List())

	require.NoError(t, second.Clear(ctx))
	third := New(repo, 32)
	require.NoError(t, third.Load(ctx))
	assert.Equal(t, 0, third.Len())
}

func TestKVRepository_EmptyStore(t *testing.T) {
	macs, err := newKVRepo(t).Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, macs)
}

func TestKVRepository_CorruptEntry(t *testing.T) {
	repo := newKVRepo(t)
	ctx := context.Background()

	h, err := repo.store.Open(ctx, kvstore.NamespaceDevices, kvstore.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, h.SetInt(keyCount, 1))
	require.NoError(t, h.SetString(fmt.Sprintf(keyMACFormat, 0), "garbage"))
	require.NoError(t, h.Commit())

	_, err = repo.Load(ctx)
	assert.ErrorIs(t, err, macaddr.ErrMalformed)
}
