// Package kvstore provides namespaced key/value storage on top of the
// controller's SQLite database.
//
// A Handle is scoped to one namespace. Read-only handles query the
// database directly. Read-write handles buffer their changes in a
// transaction that becomes durable only on Commit; Close without
// Commit discards them.
//
//	h, err := store.Open(ctx, "devices", kvstore.ReadWrite)
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//
//	if err := h.SetInt("count", 3); err != nil {
//	    return err
//	}
//	return h.Commit()
package kvstore
