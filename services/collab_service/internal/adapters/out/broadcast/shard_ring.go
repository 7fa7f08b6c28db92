package broadcast

import (
	"hash/crc32"
	"sort"
	"strconv"
)

const defaultReplicas = 64

// shardRing 一致性哈希环，把目标映射到固定的投递分片
// 分片数在创建后不变，所以不需要加锁
type shardRing struct {
	points []uint32
	owners map[uint32]int
}

func newShardRing(shards, replicas int) *shardRing {
	if replicas <= 0 {
		replicas = defaultReplicas
	}
	r := &shardRing{owners: make(map[uint32]int, shards*replicas)}
	for shard := 0; shard < shards; shard++ {
		for i := 0; i < replicas; i++ {
			point := hashKey("shard-" + strconv.Itoa(shard) + "#" + strconv.Itoa(i))
			if _, taken := r.owners[point]; taken {
				continue
			}
			r.owners[point] = shard
			r.points = append(r.points, point)
		}
	}
	sort.Slice(r.points, func(i, j int) bool { return r.points[i] < r.points[j] })
	return r
}

func hashKey(key string) uint32 {
	return crc32.ChecksumIEEE([]byte(key))
}

// Shard 负责 key 的分片
func (r *shardRing) Shard(key string) int {
	if len(r.points) == 0 {
		return 0
	}
	h := hashKey(key)
	idx := sort.Search(len(r.points), func(i int) bool { return r.points[i] >= h })
	if idx >= len(r.points) {
		idx = 0
	}
	return r.owners[r.points[idx]]
}
