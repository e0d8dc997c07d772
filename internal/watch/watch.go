// Package watch implements hot-folder scan ingestion: it watches an inbox
// directory recursively and emits paths of finished scan files, which
// cmd/scanwatch submits to the API and archives.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// processedDirName is where successfully submitted files are moved. The
// watcher never descends into it, so archived files cannot re-trigger.
const processedDirName = "processed"

// DefaultExts are the scan file extensions picked up from the inbox
// (lowercase, without dot).
var DefaultExts = map[string]struct{}{
	"zip":  {},
	"png":  {},
	"jpg":  {},
	"jpeg": {},
}

// Config controls the inbox watcher.
type Config struct {
	// Root is the inbox directory, watched recursively.
	Root string
	// AllowedExts filters which files are emitted; DefaultExts when nil.
	AllowedExts map[string]struct{}
	// InitialScan emits files already present in the inbox at startup.
	InitialScan bool
	// Debounce coalesces the write bursts a slow scanner produces while a
	// file is still being copied in.
	Debounce time.Duration
	Logger   zerolog.Logger
}

// Start watches the inbox and streams file paths ready for submission.
// Both channels close when ctx is done.
func Start(ctx context.Context, cfg Config) (<-chan string, <-chan error, error) {
	if cfg.Root == "" {
		return nil, nil, errors.New("watch: inbox root is required")
	}
	if cfg.AllowedExts == nil {
		cfg.AllowedExts = DefaultExts
	}
	log := cfg.Logger

	evCh := make(chan string, 256)
	errCh := make(chan error, 1)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}

	addTree := func(root string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				if d.Name() == processedDirName {
					return fs.SkipDir
				}
				return w.Add(path)
			}
			if cfg.InitialScan && allowed(path, cfg.AllowedExts) {
				select {
				case evCh <- path:
				default:
					log.Warn().Str("file", path).Msg("event buffer full, file left in inbox")
				}
			}
			return nil
		})
	}
	if err := addTree(cfg.Root); err != nil {
		_ = w.Close()
		return nil, nil, err
	}

	go func() {
		defer close(evCh)
		defer close(errCh)
		defer w.Close()

		// The debounce timer and pending set are only touched from this
		// goroutine; fire stays nil (blocking forever) until armed.
		var timer *time.Timer
		var fire <-chan time.Time
		pending := map[string]struct{}{}

		sendPending := func() {
			for p := range pending {
				select {
				case evCh <- p:
				default:
					log.Warn().Str("file", p).Msg("event buffer full, file left in inbox")
				}
				delete(pending, p)
			}
		}
		armTimer := func() {
			if timer == nil {
				timer = time.NewTimer(cfg.Debounce)
				fire = timer.C
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(cfg.Debounce)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-fire:
				sendPending()
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if inProcessedDir(e.Name) {
					continue
				}
				if e.Op&fsnotify.Create != 0 {
					// A new subdirectory must be watched too; w.Add on a
					// plain file fails quietly and that is fine.
					if info, err := os.Stat(e.Name); err == nil && info.IsDir() {
						if err := w.Add(e.Name); err != nil {
							log.Warn().Err(err).Str("path", e.Name).Msg("could not watch new directory")
						}
						continue
					}
				}
				if allowed(e.Name, cfg.AllowedExts) && e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
					pending[e.Name] = struct{}{}
					if cfg.Debounce > 0 {
						armTimer()
					} else {
						sendPending()
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("inbox watcher error")
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}

// ArchiveProcessed moves a submitted file into the processed/ subdirectory
// next to it, suffixing a timestamp when the name is already taken. It
// returns the archived path.
func ArchiveProcessed(path string) (string, error) {
	dest := filepath.Join(filepath.Dir(path), processedDirName)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", err
	}
	target := filepath.Join(dest, filepath.Base(path))
	if _, err := os.Stat(target); err == nil {
		ext := filepath.Ext(target)
		target = strings.TrimSuffix(target, ext) + "-" + time.Now().Format("20060102T150405") + ext
	}
	if err := os.Rename(path, target); err != nil {
		return "", err
	}
	return target, nil
}

func allowed(path string, exts map[string]struct{}) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	_, ok := exts[ext]
	return ok
}

func inProcessedDir(path string) bool {
	return filepath.Base(filepath.Dir(path)) == processedDirName
}
