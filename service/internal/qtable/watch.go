package qtable

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/437437/open-trade-poker/engine/agent"
)

// Watch drops cached shards whenever their files under dir change, so a
// rebuilt table is picked up without a restart. It blocks until ctx is done.
// Family directories must exist when Watch starts.
func (s *Store) Watch(ctx context.Context, dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("qtable: watcher: %w", err)
	}
	defer w.Close()

	watched := 0
	for _, f := range agent.Families {
		if err := w.Add(filepath.Join(dir, string(f))); err != nil {
			s.log.WithError(err).WithField("family", f).Debug("not watching family")
			continue
		}
		watched++
	}
	if watched == 0 {
		return fmt.Errorf("qtable: no family directories under %s", dir)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			family, id, ok := parseShardPath(ev.Name)
			if !ok {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.Invalidate(family, id)
				s.log.WithFields(logrus.Fields{"family": family, "shard": id, "op": ev.Op.String()}).Info("shard changed")
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.WithError(err).Warn("shard watcher error")
		}
	}
}

// parseShardPath extracts family and shard from .../<family>/<shard>.json.
func parseShardPath(path string) (agent.Family, string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".json") {
		return "", "", false
	}
	id := strings.TrimSuffix(base, ".json")
	family := agent.Family(filepath.Base(filepath.Dir(path)))
	if len(id) != 2 || !family.Valid() {
		return "", "", false
	}
	return family, id, true
}
