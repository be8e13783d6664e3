package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileStorage stores each key as a file under a root directory. Writes go
// through a temp file and rename so readers never observe a partial blob.
// ReadModifyWrite is serialized per key with in-process locks; sharing one
// cache directory between processes needs an external coordinator.
type FileStorage struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// NewFile returns a FileStorage rooted at dir, creating it if needed.
func NewFile(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileStorage{
		root:  dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Root returns the directory backing this store.
func (f *FileStorage) Root() string { return f.root }

func (f *FileStorage) keyLock(path string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[path]
	if !ok {
		l = &sync.Mutex{}
		f.locks[path] = l
	}
	return l
}

func (f *FileStorage) filePath(key string) string {
	return filepath.Join(f.root, filepath.FromSlash(key))
}

func (f *FileStorage) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(f.filePath(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return content, nil
}

func (f *FileStorage) Write(ctx context.Context, path string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.writeAtomic(f.filePath(path), content)
}

// writeAtomic writes to a temp file in the target directory and renames it
// into place. Rename within a directory is atomic on the platforms we care
// about, so concurrent readers see either the old blob or the new one.
func (f *FileStorage) writeAtomic(target string, content []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func (f *FileStorage) ReadModifyWrite(ctx context.Context, path string, modify func([]byte) ([]byte, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := f.keyLock(path)
	lock.Lock()
	defer lock.Unlock()

	current, err := f.Read(ctx, path)
	if err != nil {
		return err
	}
	updated, err := modify(current)
	if err != nil {
		return err
	}
	return f.writeAtomic(f.filePath(path), updated)
}

func (f *FileStorage) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(f.filePath(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (f *FileStorage) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if hasPathPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *FileStorage) DeleteContent(ctx context.Context, prefix string) error {
	keys, err := f.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := f.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// Watch invokes onChange whenever a file anywhere under the root is
// created, written, or removed by this or another process. Callers
// typically drop in-memory state and re-read on the next cache access.
// fsnotify watches are per directory, so the whole tree is registered up
// front and newly created subdirectories are added as their Create
// events arrive. Watch may be called at most once; Close stops the
// watcher.
func (f *FileStorage) Watch(onChange func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watcher != nil {
		return errors.New("storage: watcher already running")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := addWatchTree(w, f.root); err != nil {
		_ = w.Close()
		return err
	}

	f.watcher = w
	f.watchDone = make(chan struct{})
	go func() {
		defer close(f.watchDone)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if strings.Contains(ev.Name, ".tmp-") {
					continue
				}
				if ev.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						// Files may land in the new directory before the
						// watch is registered; the walk catches nested
						// directories created in the same burst.
						_ = addWatchTree(w, ev.Name)
					}
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					onChange()
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// addWatchTree registers dir and every directory below it. Directories
// removed between listing and Add are skipped.
func addWatchTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.Add(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	})
}

// Close stops the change watcher if one is running.
func (f *FileStorage) Close() error {
	f.mu.Lock()
	w, done := f.watcher, f.watchDone
	f.watcher = nil
	f.watchDone = nil
	f.mu.Unlock()

	if w == nil {
		return nil
	}
	err := w.Close()
	<-done
	return err
}
