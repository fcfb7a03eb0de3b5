package system

import (
	"context"
	"errors"
	"time"
)

// Close releases resources held by a Suite.
//
// Open SQLite handles keep test TempDirs from being removed on some
// platforms, so tests must call it too.
func (s *Suite) Close() error {
	if s == nil {
		return nil
	}

	var errs []error

	if s.watcher != nil {
		s.watcher.Stop()
		s.watcher = nil
	}

	if s.Usage != nil {
		if err := s.Usage.Save(); err != nil {
			errs = append(errs, err)
		}
	}

	if s.Unknowns != nil {
		if err := s.Unknowns.Close(); err != nil {
			errs = append(errs, err)
		}
		s.Unknowns = nil
	}

	if s.BrowserManager != nil && s.BrowserManager.IsConnected() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.BrowserManager.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
