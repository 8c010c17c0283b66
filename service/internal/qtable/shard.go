// Package qtable serves the AI's Q tables. A table maps key strings (see
// agent.Key) to scores and is split into 256 shards by an 8-bit djb2 hash of
// the key, so a lookup only loads the shard that can hold it. The hash
// matches the offline build script bit for bit, which lets pre-built shard
// files be reused unchanged.
package qtable

import (
	"context"
	"errors"
	"fmt"

	"github.com/437437/open-trade-poker/engine/agent"
)

// NumShards is the number of shards per family.
const NumShards = 256

// ErrUnknownFamily is returned for a family other than FSF or SFS.
var ErrUnknownFamily = errors.New("qtable: unknown family")

// Shard is one hash partition of a table.
type Shard map[string]float64

// Loader fetches a single shard. A shard that does not exist is returned
// empty without error; tables are sparse.
type Loader interface {
	LoadShard(ctx context.Context, family agent.Family, shard string) (Shard, error)
}

// ShardIndex returns the djb2 hash of key reduced to 8 bits.
func ShardIndex(key string) int {
	h := uint32(5381)
	for i := 0; i < len(key); i++ {
		h = (h<<5 + h) ^ uint32(key[i])
	}
	return int(h & 0xff)
}

// ShardID returns the shard name for key: two lowercase hex digits.
func ShardID(key string) string {
	return shardName(ShardIndex(key))
}

func shardName(i int) string {
	return fmt.Sprintf("%02x", i)
}

// ShardNames lists every shard name in order.
func ShardNames() []string {
	out := make([]string, NumShards)
	for i := range out {
		out[i] = shardName(i)
	}
	return out
}

func checkFamily(f agent.Family) error {
	if !f.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownFamily, string(f))
	}
	return nil
}
