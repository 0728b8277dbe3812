package btree

import "errors"

// Error taxonomy per spec §7: not_found, already_exists, no_space, io,
// integrity. Callers use errors.Is; none are retried internally.
var (
	ErrNotFound  = errors.New("btree: not found")
	ErrExists    = errors.New("btree: already exists")
	ErrNoSpace   = errors.New("btree: no space")
	ErrIO        = errors.New("btree: i/o error")
	ErrIntegrity = errors.New("btree: integrity error")
)
