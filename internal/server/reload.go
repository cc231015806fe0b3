package server

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/operantlabs/operant/internal/config"
)

// reloadDebounce coalesces the event bursts editors produce on save.
const reloadDebounce = 500 * time.Millisecond

// watchConfig reloads the configuration file when it changes on disk.
// The watch is attached to the parent directory because editors replace
// files on save, which drops a watch on the file itself.
func (s *Server) watchConfig() error {
	if s.configPath == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(s.configPath)); err != nil {
		_ = watcher.Close() //nolint:errcheck
		return err
	}
	s.watcher = watcher

	go s.watchLoop(watcher)
	return nil
}

func (s *Server) watchLoop(watcher *fsnotify.Watcher) {
	target := filepath.Clean(s.configPath)
	var timer *time.Timer
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, s.reloadConfig)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("config watcher error", "error", err)
		}
	}
}

// reloadConfig re-reads the config file and swaps the live snapshot.
// A file that no longer parses keeps the previous configuration.
func (s *Server) reloadConfig() {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		s.log.Warn("config reload failed, keeping previous configuration", "path", s.configPath, "error", err)
		return
	}

	s.confMu.Lock()
	previous := s.conf
	s.conf = cfg
	s.confMu.Unlock()
	s.log.Info("configuration reloaded", "path", s.configPath)

	// Runtime, sandbox, and usage settings take effect on the next turn
	// because handlers read a fresh snapshot per request. The listener
	// and the worker pool are sized once at startup.
	if previous.Server.Addr() != cfg.Server.Addr() {
		s.log.Warn("server address change requires a restart", "current", previous.Server.Addr(), "configured", cfg.Server.Addr())
	}
	if previous.Jobs.Workers != cfg.Jobs.Workers || previous.Jobs.QueueSize != cfg.Jobs.QueueSize {
		s.log.Warn("job worker pool change requires a restart")
	}
}
