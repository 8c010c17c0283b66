package qtable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/437437/open-trade-poker/engine/agent"
)

// FileLoader reads shards from <Dir>/<family>/<shard>.json, each a JSON
// object of key to score.
type FileLoader struct {
	Dir string
}

// ShardPath returns the file holding shard of family.
func (l FileLoader) ShardPath(family agent.Family, shard string) string {
	return filepath.Join(l.Dir, string(family), shard+".json")
}

// LoadShard implements Loader.
func (l FileLoader) LoadShard(_ context.Context, family agent.Family, shard string) (Shard, error) {
	if err := checkFamily(family); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.ShardPath(family, shard))
	if errors.Is(err, fs.ErrNotExist) {
		return Shard{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("qtable: reading %s/%s: %w", family, shard, err)
	}
	s := Shard{}
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("qtable: parsing %s/%s: %w", family, shard, err)
	}
	return s, nil
}

// RedisLoader reads shards stored as hashes at <Prefix>:<family>:<shard>,
// field = key, value = score.
type RedisLoader struct {
	Client redis.Cmdable
	Prefix string // defaults to "qtable"
}

// HashKey returns the Redis key holding shard of family.
func (l RedisLoader) HashKey(family agent.Family, shard string) string {
	prefix := l.Prefix
	if prefix == "" {
		prefix = "qtable"
	}
	return prefix + ":" + string(family) + ":" + shard
}

// LoadShard implements Loader.
func (l RedisLoader) LoadShard(ctx context.Context, family agent.Family, shard string) (Shard, error) {
	if err := checkFamily(family); err != nil {
		return nil, err
	}
	fields, err := l.Client.HGetAll(ctx, l.HashKey(family, shard)).Result()
	if err != nil {
		return nil, fmt.Errorf("qtable: HGETALL %s: %w", l.HashKey(family, shard), err)
	}
	s := make(Shard, len(fields))
	for k, v := range fields {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("qtable: %s field %q: %w", l.HashKey(family, shard), k, err)
		}
		s[k] = f
	}
	return s, nil
}

// NewRedisLoader connects to the Redis server at url.
func NewRedisLoader(url string) (RedisLoader, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return RedisLoader{}, nil, fmt.Errorf("qtable: redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return RedisLoader{Client: client}, client, nil
}
