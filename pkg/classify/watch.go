package classify

import (
	"context"
	"os"
	"path/filepath"

	"emperror.dev/errors"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watch reloads the rule files whenever one of them changes and hands every
// valid result to apply. Invalid edits are logged and the previous rules stay
// in effect. Watch blocks until ctx is done.
func Watch(ctx context.Context, src Sources, apply func(*RuleSet)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create rule watcher")
	}
	defer watcher.Close()

	watched := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, f := range src.Files() {
		abs, err := filepath.Abs(f)
		if err != nil {
			return errors.Wrapf(err, "resolve %s", f)
		}
		watched[abs] = true
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		// Watch the directory so files created or replaced after startup are seen.
		if err := watcher.Add(dir); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				log.WithField("dir", dir).Debug("rule directory missing, not watching")
				continue
			}
			return errors.Wrapf(err, "watch %s", dir)
		}
		dirs[dir] = true
	}
	if len(dirs) == 0 {
		log.Debug("no rule directories to watch")
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New("rule watcher closed")
			}
			if !watched[filepath.Clean(ev.Name)] || ev.Op == fsnotify.Chmod {
				continue
			}
			rs, err := Load(src)
			if err != nil {
				log.WithError(err).WithField("file", ev.Name).Error("rule reload failed, keeping previous rules")
				continue
			}
			log.WithFields(log.Fields{"file": ev.Name, "rules": rs.Len(), "fingerprint": rs.Fingerprint()}).Info("classification rules reloaded")
			apply(rs)
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("rule watcher closed")
			}
			log.WithError(err).Warn("rule watcher error")
		}
	}
}
