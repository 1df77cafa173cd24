package risk

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/tidwall/gjson"

	"ordercore/internal/logger"
)

// KillSwitch reads the process-wide halt flag from an environment variable
// or a mounted JSON file ({"enabled": true, "reason": "..."}). Reads are
// cached for a short TTL; a fsnotify watch on the file invalidates the cache
// immediately on change. The core only reads this surface, it never owns it.
type KillSwitch struct {
	envVar   string
	filePath string
	ttl      time.Duration

	mu       sync.Mutex
	enabled  bool
	reason   string
	readErr  error
	cachedAt time.Time
}

func NewKillSwitch(envVar, filePath string, ttl time.Duration) *KillSwitch {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &KillSwitch{envVar: envVar, filePath: filePath, ttl: ttl}
}

// Enabled reports the current switch state and, when tripped, the operator
// supplied reason. The error is non-nil only when a configured file exists
// but cannot be read or parsed; a missing file means the switch is off.
func (k *KillSwitch) Enabled() (bool, string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if time.Since(k.cachedAt) < k.ttl {
		return k.enabled, k.reason, k.readErr
	}
	k.enabled, k.reason, k.readErr = k.read()
	k.cachedAt = time.Now()
	return k.enabled, k.reason, k.readErr
}

func (k *KillSwitch) read() (bool, string, error) {
	if k.envVar != "" {
		switch strings.ToLower(strings.TrimSpace(os.Getenv(k.envVar))) {
		case "1", "true", "on", "yes":
			return true, "env:" + k.envVar, nil
		}
	}
	if k.filePath == "" {
		return false, "", nil
	}
	data, err := os.ReadFile(k.filePath)
	if os.IsNotExist(err) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	if !gjson.ValidBytes(data) {
		return false, "", errInvalidKillSwitchFile(k.filePath)
	}
	doc := gjson.ParseBytes(data)
	return doc.Get("enabled").Bool(), doc.Get("reason").String(), nil
}

type errInvalidKillSwitchFile string

func (e errInvalidKillSwitchFile) Error() string {
	return "kill switch file is not valid JSON: " + string(e)
}

// invalidate drops the cached state so the next Enabled call re-reads.
func (k *KillSwitch) invalidate() {
	k.mu.Lock()
	k.cachedAt = time.Time{}
	k.mu.Unlock()
}

// Watch invalidates the TTL cache whenever the kill switch file changes, so
// an operator flip takes effect without waiting out the TTL. Blocks until
// ctx is done. No-op when no file is configured.
func (k *KillSwitch) Watch(ctx context.Context) error {
	if k.filePath == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	// Watch the directory: editors and mounts replace the file atomically,
	// which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(k.filePath)); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if evt.Name == k.filePath {
				logger.Infof("kill switch file event %s, re-reading", evt.Op)
				k.invalidate()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("kill switch watcher error: %v", err)
		}
	}
}
