package gorm

import (
	"hash/fnv"
	"slices"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// featureLockKey maps a feature id onto the pg_advisory_xact_lock key space.
func featureLockKey(id uuid.UUID) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("feature:"))
	_, _ = h.Write(id[:])
	return int64(h.Sum64())
}

// featureLockKeys returns the distinct lock keys for ids in ascending order.
// Every transaction acquires keys in this order, so two merges touching the
// same pair of features cannot deadlock.
func featureLockKeys(ids ...uuid.UUID) []int64 {
	keys := make([]int64, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, featureLockKey(id))
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}

func advisoryLock(tx *gorm.DB, key int64) error {
	return tx.Exec("SELECT pg_advisory_xact_lock(?)", key).Error
}
