package store_test

import (
	"github.com/aksrustagi/coordinator/store"
	"github.com/aksrustagi/coordinator/store/memory"
	"github.com/aksrustagi/coordinator/store/postgres"
	"github.com/aksrustagi/coordinator/store/redis"
)

var (
	_ store.Store  = (*memory.Store)(nil)
	_ store.Store  = (*postgres.Store)(nil)
	_ store.Store  = (*redis.Store)(nil)
	_ store.Locker = (*memory.Store)(nil)
	_ store.Locker = (*postgres.Store)(nil)
	_ store.Locker = (*redis.Store)(nil)
)
