package prompt

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// MemorySource serves a fixed map of template bodies, used in tests and as
// the seed for programmatically registered built-ins.
type MemorySource map[string]string

func (m MemorySource) Load() (map[string]string, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out, nil
}

// EmbedSource reads every *.prompt file under an embed.FS (or any fs.FS),
// deriving the template name from the path with slashes converted to dots
// ("agent/engineer/system.prompt" -> "agent.engineer.system").
type EmbedSource struct {
	FS fs.FS
}

func (e EmbedSource) Load() (map[string]string, error) {
	out := map[string]string{}
	err := fs.WalkDir(e.FS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".prompt") {
			return nil
		}
		data, err := fs.ReadFile(e.FS, path)
		if err != nil {
			return err
		}
		out[pathToName(path)] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("prompt embed source: %w", err)
	}
	return out, nil
}

// DirSource reads *.prompt files from a directory tree on disk, letting
// operators override or add templates without a rebuild. Combine with Watch
// for hot reload.
type DirSource struct {
	Root string
}

func (d DirSource) Load() (map[string]string, error) {
	out := map[string]string{}
	err := filepath.WalkDir(d.Root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(path, ".prompt") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(d.Root, path)
		if err != nil {
			rel = path
		}
		out[pathToName(rel)] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("prompt dir source %s: %w", d.Root, err)
	}
	return out, nil
}

func pathToName(path string) string {
	trimmed := strings.TrimSuffix(path, ".prompt")
	trimmed = strings.ReplaceAll(trimmed, string(filepath.Separator), ".")
	return strings.ReplaceAll(trimmed, "/", ".")
}

// Watch starts an fsnotify watcher on root and every subdirectory beneath
// it, calling s.Reload whenever a .prompt file is written, created, or
// removed. It runs until ctx is cancelled.
func (s *Store) Watch(ctx context.Context, root string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("prompt watch: %w", err)
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return fmt.Errorf("prompt watch: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, ".prompt") {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					_ = s.Reload()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return nil
}
