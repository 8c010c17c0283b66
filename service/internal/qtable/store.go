package qtable

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/437437/open-trade-poker/engine/agent"
)

// Store caches shards loaded through a Loader. Each shard is loaded at most
// once until invalidated, even under concurrent lookups. A Store is safe for
// concurrent use.
type Store struct {
	loader  Loader
	log     *logrus.Entry
	timeout time.Duration

	mu     sync.RWMutex
	shards map[agent.Family]map[string]Shard
	group  singleflight.Group
}

// NewStore returns an empty cache in front of loader.
func NewStore(loader Loader, log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{
		loader:  loader,
		log:     log.WithField("component", "qtable"),
		timeout: 5 * time.Second,
		shards:  make(map[agent.Family]map[string]Shard),
	}
}

// Lookup returns the score stored for key in family.
func (s *Store) Lookup(ctx context.Context, family agent.Family, key string) (float64, bool, error) {
	shard, err := s.shard(ctx, family, ShardID(key))
	if err != nil {
		return 0, false, err
	}
	v, ok := shard[key]
	return v, ok, nil
}

func (s *Store) shard(ctx context.Context, family agent.Family, id string) (Shard, error) {
	if err := checkFamily(family); err != nil {
		return nil, err
	}
	s.mu.RLock()
	sh, ok := s.shards[family][id]
	s.mu.RUnlock()
	if ok {
		return sh, nil
	}

	v, err, _ := s.group.Do(string(family)+"/"+id, func() (any, error) {
		s.mu.RLock()
		sh, ok := s.shards[family][id]
		s.mu.RUnlock()
		if ok {
			return sh, nil
		}
		loaded, err := s.loader.LoadShard(ctx, family, id)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		if s.shards[family] == nil {
			s.shards[family] = make(map[string]Shard)
		}
		s.shards[family][id] = loaded
		s.mu.Unlock()
		s.log.WithFields(logrus.Fields{"family": family, "shard": id, "keys": len(loaded)}).Debug("shard loaded")
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Shard), nil
}

// Preload loads every shard of family in parallel.
func (s *Store) Preload(ctx context.Context, family agent.Family) error {
	if err := checkFamily(family); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for _, id := range ShardNames() {
		g.Go(func() error {
			_, err := s.shard(ctx, family, id)
			return err
		})
	}
	return g.Wait()
}

// Invalidate drops one cached shard so the next lookup reloads it.
func (s *Store) Invalidate(family agent.Family, id string) {
	s.mu.Lock()
	delete(s.shards[family], id)
	s.mu.Unlock()
}

// Cached reports how many shards of family are in memory.
func (s *Store) Cached(family agent.Family) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.shards[family])
}

// Table adapts one family to agent.Table. Load failures are logged and
// scored as misses, which sends the AI to its fallback rule.
func (s *Store) Table(family agent.Family) (agent.Table, error) {
	if err := checkFamily(family); err != nil {
		return nil, err
	}
	return familyTable{store: s, family: family}, nil
}

type familyTable struct {
	store  *Store
	family agent.Family
}

func (t familyTable) Lookup(key string) (float64, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), t.store.timeout)
	defer cancel()
	v, ok, err := t.store.Lookup(ctx, t.family, key)
	if err != nil {
		t.store.log.WithError(err).WithField("family", t.family).Warn("shard load failed")
		return 0, false
	}
	return v, ok
}
