package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/lanwake/internal/infrastructure/database"
)

// Well-known namespaces.
const (
	NamespaceSettings = "settings"
	NamespaceDevices  = "devices"
)

// Mode selects how a namespace is opened.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

const (
	kindString = "str"
	kindInt    = "int"
)

// Store opens namespace handles on a database.
type Store struct {
	db *database.DB
}

// New creates a Store. The kv table must already exist (see migrations).
func New(db *database.DB) *Store {
	return &Store{db: db}
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Handle is a scoped view of one namespace. It is not safe for
// concurrent use.
type Handle struct {
	ctx    context.Context //nolint:containedctx // Handle lives for one short operation
	ns     string
	mode   Mode
	q      querier
	tx     *sql.Tx
	closed bool
}

// Open returns a handle on namespace ns. A ReadWrite handle holds the
// single SQLite connection until Commit or Close, so keep it short.
func (s *Store) Open(ctx context.Context, ns string, mode Mode) (*Handle, error) {
	if ns == "" {
		return nil, ErrInvalidNamespace
	}

	h := &Handle{ctx: ctx, ns: ns, mode: mode, q: s.db.DB}
	if mode == ReadWrite {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("kvstore: opening %s: %w", ns, err)
		}
		h.tx = tx
		h.q = tx
	}
	return h, nil
}

// Namespace returns the namespace this handle is scoped to.
func (h *Handle) Namespace() string {
	return h.ns
}

// GetString returns the string stored under key.
func (h *Handle) GetString(key string) (string, error) {
	kind, value, err := h.get(key)
	if err != nil {
		return "", err
	}
	if kind != kindString {
		return "", fmt.Errorf("%w: %s/%s is %s", ErrTypeMismatch, h.ns, key, kind)
	}
	return value, nil
}

// GetInt returns the integer stored under key.
func (h *Handle) GetInt(key string) (int64, error) {
	kind, value, err := h.get(key)
	if err != nil {
		return 0, err
	}
	if kind != kindInt {
		return 0, fmt.Errorf("%w: %s/%s is %s", ErrTypeMismatch, h.ns, key, kind)
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("kvstore: corrupt int at %s/%s: %w", h.ns, key, err)
	}
	return n, nil
}

// SetString stores a string under key, replacing any previous value.
func (h *Handle) SetString(key, value string) error {
	return h.set(key, kindString, value)
}

// SetInt stores an integer under key, replacing any previous value.
func (h *Handle) SetInt(key string, value int64) error {
	return h.set(key, kindInt, strconv.FormatInt(value, 10))
}

// EraseAll removes every key in the namespace.
func (h *Handle) EraseAll() error {
	if err := h.writable(); err != nil {
		return err
	}
	if _, err := h.q.ExecContext(h.ctx, "DELETE FROM kv WHERE namespace = ?", h.ns); err != nil {
		return fmt.Errorf("kvstore: erasing %s: %w", h.ns, err)
	}
	return nil
}

// Commit makes the handle's changes durable and closes it.
// On a read-only handle it only closes.
func (h *Handle) Commit() error {
	if h.closed {
		return ErrClosed
	}
	h.closed = true
	if h.tx == nil {
		return nil
	}
	if err := h.tx.Commit(); err != nil {
		return fmt.Errorf("kvstore: committing %s: %w", h.ns, err)
	}
	return nil
}

// Close discards uncommitted changes. It is safe to call after Commit.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	if h.tx == nil {
		return nil
	}
	if err := h.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("kvstore: closing %s: %w", h.ns, err)
	}
	return nil
}

func (h *Handle) get(key string) (kind, value string, err error) {
	if h.closed {
		return "", "", ErrClosed
	}
	err = h.q.QueryRowContext(h.ctx,
		"SELECT kind, value FROM kv WHERE namespace = ? AND key = ?", h.ns, key,
	).Scan(&kind, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("%w: %s/%s", ErrNotFound, h.ns, key)
	}
	if err != nil {
		return "", "", fmt.Errorf("kvstore: reading %s/%s: %w", h.ns, key, err)
	}
	return kind, value, nil
}

func (h *Handle) set(key, kind, value string) error {
	if err := h.writable(); err != nil {
		return err
	}
	_, err := h.q.ExecContext(h.ctx, `
		INSERT INTO kv (namespace, key, kind, value, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET
			kind = excluded.kind, value = excluded.value, updated_at = excluded.updated_at`,
		h.ns, key, kind, value, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("kvstore: writing %s/%s: %w", h.ns, key, err)
	}
	return nil
}

func (h *Handle) writable() error {
	if h.closed {
		return ErrClosed
	}
	if h.mode != ReadWrite {
		return ErrReadOnly
	}
	return nil
}
