package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/lanwake/internal/kvstore"
	"github.com/nerrad567/lanwake/internal/macaddr"
)

// Repository stores the device list as a whole.
type Repository interface {
	// Load returns the stored addresses in order. An empty store yields nil.
	Load(ctx context.Context) ([]macaddr.MAC, error)

	// Save atomically replaces the stored list.
	Save(ctx context.Context, macs []macaddr.MAC) error

	// Erase removes every stored address.
	Erase(ctx context.Context) error
}

const (
	keyCount     = "count"
	keyMACFormat = "mac_%d"
)

// KVRepository keeps the list in the devices namespace as a "count"
// integer plus "mac_0".."mac_{count-1}" strings.
type KVRepository struct {
	store *kvstore.Store
}

// NewKVRepository creates a Repository on top of store.
func NewKVRepository(store *kvstore.Store) *KVRepository {
	return &KVRepository{store: store}
}

// Load implements Repository. Entries that fail to parse are returned
// as errors so corruption is visible rather than silently dropped.
func (r *KVRepository) Load(ctx context.Context) ([]macaddr.MAC, error) {
	h, err := r.store.Open(ctx, kvstore.NamespaceDevices, kvstore.ReadOnly)
	if err != nil {
		return nil, err
	}
	defer h.Close() //nolint:errcheck // Read-only handle

	count, err := h.GetInt(keyCount)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	macs := make([]macaddr.MAC, 0, count)
	for i := range count {
		s, err := h.GetString(fmt.Sprintf(keyMACFormat, i))
		if err != nil {
			return nil, err
		}
		mac, err := macaddr.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("registry: entry %d: %w", i, err)
		}
		macs = append(macs, mac)
	}
	return macs, nil
}

// Save implements Repository in a single transaction.
func (r *KVRepository) Save(ctx context.Context, macs []macaddr.MAC) error {
	h, err := r.store.Open(ctx, kvstore.NamespaceDevices, kvstore.ReadWrite)
	if err != nil {
		return err
	}
	defer h.Close() //nolint:errcheck // No-op after Commit

	if err := h.EraseAll(); err != nil {
		return err
	}
	if err := h.SetInt(keyCount, int64(len(macs))); err != nil {
		return err
	}
	for i, mac := range macs {
		if err := h.SetString(fmt.Sprintf(keyMACFormat, i), mac.String()); err != nil {
			return err
		}
	}
	return h.Commit()
}

// Erase implements Repository.
func (r *KVRepository) Erase(ctx context.Context) error {
	h, err := r.store.Open(ctx, kvstore.NamespaceDevices, kvstore.ReadWrite)
	if err != nil {
		return err
	}
	defer h.Close() //nolint:errcheck // No-op after Commit

	if err := h.EraseAll(); err != nil {
		return err
	}
	return h.Commit()
}
