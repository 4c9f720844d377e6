package synthesis

import (
	"encoding/binary"
	"hash/fnv"
)

// bucketKey maps an embedding onto an advisory lock key using the signs of
// its first bits components. Near-identical embeddings almost always share
// a bucket, so concurrent create-or-merge decisions for them serialize.
func bucketKey(embedding []float32, bits int) int64 {
	if bits > 64 {
		bits = 64
	}
	if bits > len(embedding) {
		bits = len(embedding)
	}

	var signs uint64
	for i := 0; i < bits; i++ {
		if embedding[i] >= 0 {
			signs |= 1 << uint(i)
		}
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], signs)

	h := fnv.New64a()
	_, _ = h.Write([]byte("bucket:"))
	_, _ = h.Write(buf[:])
	return int64(h.Sum64())
}
