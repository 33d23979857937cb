package model

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ChangeFunc вызывается при изменении файла артефакта
type ChangeFunc func(path string, op fsnotify.Op)

// ErrorFunc вызывается при ошибке наблюдателя (например, переполнении очереди событий)
type ErrorFunc func(err error)

// Watch следит за файлами артефактов до отмены ctx.
// Загруженный Handle не перечитывается: изменения вступают в силу после рестарта.
// Следим за каталогами, так как артефакты обычно заменяются переименованием.
func Watch(ctx context.Context, paths []string, onChange ChangeFunc, onError ErrorFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	watched := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			watcher.Close()
			return fmt.Errorf("resolve %s: %w", p, err)
		}
		watched[abs] = true
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}

	go watchLoop(ctx, watcher, watched, onChange, onError)
	return nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, watched map[string]bool, onChange ChangeFunc, onError ErrorFunc) {
	defer watcher.Close()
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !watched[abs] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				onChange(abs, event.Op)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if onError != nil {
				onError(err)
			}
		case <-ctx.Done():
			return
		}
	}
}
