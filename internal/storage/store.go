package storage

import (
	"context"
	"errors"
)

// GroupsKey is the record holding the whole group mapping.
const GroupsKey = "tabGroups"

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage: store closed")

// Record is one stored value. Rev increases by one on every write of the
// key; change notifications carry the same shape.
type Record struct {
	Key   string
	Value []byte
	Rev   int64
}

// Store is a key-value store with whole-record writes and change
// notification. Every Put is published to every subscriber, the writer
// included.
type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Put(ctx context.Context, key string, value []byte) (int64, error)
	Subscribe() (<-chan Record, func())
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
