package service

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

const orderLockStripes = 64

// orderLocks serialises transitions of one order within this process from
// the row read until the event is dispatched, so the router receives an
// order's events in commit order. The Redis lease covers other replicas.
type orderLocks [orderLockStripes]sync.Mutex

func (l *orderLocks) lock(id snowflake.ID) func() {
	m := &l[uint64(id)%orderLockStripes]
	m.Lock()
	return m.Unlock
}
