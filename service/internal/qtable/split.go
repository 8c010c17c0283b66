package qtable

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/437437/open-trade-poker/engine/agent"
)

// Split reads a whole table (one JSON object of key to score) from r and
// writes all 256 shard files for family under dir, empty shards included.
// It returns the number of keys written.
func Split(r io.Reader, dir string, family agent.Family) (int, error) {
	if err := checkFamily(family); err != nil {
		return 0, err
	}
	buckets := make([]Shard, NumShards)
	for i := range buckets {
		buckets[i] = Shard{}
	}

	dec := json.NewDecoder(r)
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return 0, fmt.Errorf("qtable: table must be a JSON object")
	}
	n := 0
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return 0, fmt.Errorf("qtable: reading key %d: %w", n, err)
		}
		key, ok := tok.(string)
		if !ok {
			return 0, fmt.Errorf("qtable: unexpected token %v", tok)
		}
		var score float64
		if err := dec.Decode(&score); err != nil {
			return 0, fmt.Errorf("qtable: score for %q: %w", key, err)
		}
		buckets[ShardIndex(key)][key] = score
		n++
	}

	out := filepath.Join(dir, string(family))
	if err := os.MkdirAll(out, 0o755); err != nil {
		return 0, fmt.Errorf("qtable: %w", err)
	}
	for i, b := range buckets {
		data, err := json.Marshal(b)
		if err != nil {
			return 0, fmt.Errorf("qtable: encoding shard %s: %w", shardName(i), err)
		}
		if err := os.WriteFile(filepath.Join(out, shardName(i)+".json"), data, 0o644); err != nil {
			return 0, fmt.Errorf("qtable: %w", err)
		}
	}
	return n, nil
}

// Publish uploads the shard files of family under dir into Redis hashes
// readable by RedisLoader. Existing hashes are replaced. It returns the
// number of keys uploaded.
func Publish(ctx context.Context, rdb redis.Cmdable, dir string, family agent.Family) (int, error) {
	if err := checkFamily(family); err != nil {
		return 0, err
	}
	files := FileLoader{Dir: dir}
	target := RedisLoader{Client: rdb}

	counts := make([]int, NumShards)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, id := range ShardNames() {
		g.Go(func() error {
			shard, err := files.LoadShard(ctx, family, id)
			if err != nil {
				return err
			}
			key := target.HashKey(family, id)
			_, err = rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Del(ctx, key)
				if len(shard) == 0 {
					return nil
				}
				fields := make([]any, 0, 2*len(shard))
				for k, v := range shard {
					fields = append(fields, k, strconv.FormatFloat(v, 'g', -1, 64))
				}
				p.HSet(ctx, key, fields...)
				return nil
			})
			if err != nil {
				return fmt.Errorf("qtable: publishing %s: %w", key, err)
			}
			counts[i] = len(shard)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	return total, nil
}
