package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// FileStorage keeps one file per key inside a directory. Other processes
// pointing at the same directory observe changes through fsnotify.
type FileStorage struct {
	dir string
	log zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewFileStorage creates dir if needed and returns a FileStorage rooted there.
func NewFileStorage(dir string, log zerolog.Logger) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileStorage{
		dir: dir,
		log: log.With().Str("component", "file_storage").Logger(),
	}, nil
}

func (f *FileStorage) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(f.dir, key), nil
}

func (f *FileStorage) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FileStorage) Get(_ context.Context, key string) (string, bool, error) {
	if f.isClosed() {
		return "", false, ErrClosed
	}
	p, err := f.path(key)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return string(data), true, nil
}

// Set writes the value to a hidden temp file and renames it into place so
// readers never see a half-written key.
func (f *FileStorage) Set(_ context.Context, key, value string) error {
	if f.isClosed() {
		return ErrClosed
	}
	p, err := f.path(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, "."+key+"-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

func (f *FileStorage) Remove(_ context.Context, key string) error {
	if f.isClosed() {
		return ErrClosed
	}
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (f *FileStorage) Watch(ctx context.Context) (<-chan Change, error) {
	if f.isClosed() {
		return nil, ErrClosed
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(f.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", f.dir, err)
	}

	out := make(chan Change, 64)
	go func() {
		defer close(out)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				change, ok := f.translate(ev)
				if !ok {
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.log.Warn().Err(werr).Msg("Session dir watch error")
			}
		}
	}()

	return out, nil
}

// translate maps a filesystem event on a key file to a Change. Temp files
// (dot-prefixed) are ignored.
func (f *FileStorage) translate(ev fsnotify.Event) (Change, bool) {
	key := filepath.Base(ev.Name)
	if strings.HasPrefix(key, ".") || filepath.Dir(ev.Name) != filepath.Clean(f.dir) {
		return Change{}, false
	}

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		return Change{Key: key, Removed: true}, true
	}
	if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
		data, err := os.ReadFile(ev.Name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Change{Key: key, Removed: true}, true
			}
			f.log.Warn().Err(err).Str("key", key).Msg("Read changed session key failed")
			return Change{}, false
		}
		return Change{Key: key, Value: string(data)}, true
	}
	return Change{}, false
}

func (f *FileStorage) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
