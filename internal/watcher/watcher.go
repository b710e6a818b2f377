package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/router-for-me/ModelProviderConnections/internal/config"
	log "github.com/sirupsen/logrus"
)

// defaultPollInterval controls how often the config file is re-read.
const defaultPollInterval = 2 * time.Second

// ConfigWatcher polls the config file and republishes the rate limit settings
// whenever its contents change.
type ConfigWatcher struct {
	path         string
	pollInterval time.Duration
	onReload     func(config.RateLimitConfig)

	mu        sync.RWMutex
	hash      string
	rateLimit config.RateLimitConfig
}

// NewConfigWatcher constructs a watcher seeded with the settings already loaded from path.
func NewConfigWatcher(path string, initial config.RateLimitConfig) *ConfigWatcher {
	w := &ConfigWatcher{
		path:         strings.TrimSpace(path),
		pollInterval: defaultPollInterval,
		rateLimit:    initial,
	}
	if data, errRead := os.ReadFile(w.path); errRead == nil {
		w.hash = hashBytes(data)
	}
	return w
}

// OnReload registers a callback invoked after each successful reload.
func (w *ConfigWatcher) OnReload(fn func(config.RateLimitConfig)) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.onReload = fn
	w.mu.Unlock()
}

// RateLimitSettings returns the latest rate limit settings snapshot.
func (w *ConfigWatcher) RateLimitSettings() config.RateLimitConfig {
	if w == nil {
		return config.RateLimitConfig{}
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.rateLimit
}

// Start polls the config file in the background until ctx is done.
func (w *ConfigWatcher) Start(ctx context.Context) {
	if w == nil || w.path == "" {
		return
	}
	go w.run(ctx)
}

func (w *ConfigWatcher) run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Poll()
		}
	}
}

// Poll reloads the settings when the file contents changed and reports whether it did.
// Unreadable or invalid files keep the previous settings.
func (w *ConfigWatcher) Poll() bool {
	if w == nil || w.path == "" {
		return false
	}
	data, errRead := os.ReadFile(w.path)
	if errRead != nil || len(data) == 0 {
		return false
	}
	hash := hashBytes(data)

	w.mu.RLock()
	prevHash := w.hash
	w.mu.RUnlock()
	if prevHash == hash {
		return false
	}

	next, errLoad := config.LoadRateLimitConfig(w.path)
	if errLoad != nil {
		log.WithError(errLoad).Warn("config watcher: reload failed")
		return false
	}

	w.mu.Lock()
	w.hash = hash
	w.rateLimit = next
	onReload := w.onReload
	w.mu.Unlock()

	log.WithFields(log.Fields{
		"rate_limit":    next.Limit,
		"redis_enabled": next.RedisEnabled,
	}).Info("config watcher: settings reloaded")
	if onReload != nil {
		onReload(next)
	}
	return true
}

// hashBytes returns the SHA-256 hex digest of the input bytes.
func hashBytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
