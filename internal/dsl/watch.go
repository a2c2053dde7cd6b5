package dsl

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce — пауза после последнего события перед перезагрузкой.
const DefaultDebounce = 500 * time.Millisecond

// Watch следит за YAML-файлами в root (включая подпапки, существующие на момент
// запуска) и вызывает onChange после серии изменений. Блокирует до отмены ctx.
func Watch(ctx context.Context, root string, debounce time.Duration, logger *zap.SugaredLogger, onChange func(context.Context)) error {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create schema watcher")
	}
	defer w.Close()

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "watch %s", root)
	}
	logger.Infow("Watching schema directory", "dir", root)

	var (
		mu    sync.Mutex
		timer *time.Timer
		wg    sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		if timer != nil && timer.Stop() {
			wg.Done()
		}
		mu.Unlock()
		wg.Wait()
	}()
	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil && timer.Stop() {
			wg.Done()
		}
		wg.Add(1)
		timer = time.AfterFunc(debounce, func() {
			defer wg.Done()
			onChange(ctx)
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isSchemaFile(ev.Name) || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debugw("Schema file changed", "file", ev.Name, "op", ev.Op.String())
			schedule()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warnw("Schema watcher error", "error", err)
		}
	}
}

func isSchemaFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
