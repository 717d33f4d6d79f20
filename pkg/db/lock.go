package db

import (
	"hash/fnv"

	"gorm.io/gorm"
)

// AdvisoryLock takes a transaction-scoped advisory lock keyed by an arbitrary
// string. Two transactions locking the same key serialize against each other;
// the lock is released when the transaction commits or rolls back.
//
// Only postgres supports advisory locks. Other dialects (the in-memory sqlite
// used in tests runs on a single serialized connection) are a no-op.
func AdvisoryLock(tx *gorm.DB, key string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(?)", lockID(key)).Error
}

func lockID(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}
