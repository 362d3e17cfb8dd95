package term

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/michaelbrown/codeshare/internal/logging"
)

const defaultDebounce = 100 * time.Millisecond

// ValueSetter receives the document text whenever it changes remotely.
type ValueSetter interface {
	SetValue(text string)
}

// Tee fans SetValue out to several setters.
type Tee []ValueSetter

func (t Tee) SetValue(text string) {
	for _, s := range t {
		s.SetValue(text)
	}
}

// FileWidget mirrors the document into a file. Remote text is written to
// the file; saving the file in an editor reports the new text as a local
// edit.
type FileWidget struct {
	path     string
	debounce time.Duration
	logger   *zap.Logger

	mu   sync.Mutex
	last string
}

// NewFileWidget mirrors into path, creating it if needed. Existing content
// is kept and returned by Value.
func NewFileWidget(path string, logger *zap.Logger) (*FileWidget, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", abs, err)
	}
	if errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(abs, nil, 0o644); err != nil {
			return nil, fmt.Errorf("creating %s: %w", abs, err)
		}
	}
	return &FileWidget{
		path:     abs,
		debounce: defaultDebounce,
		logger:   logging.OrNop(logger).Named("widget").With(zap.String("path", abs)),
		last:     string(data),
	}, nil
}

// Path is the mirrored file.
func (f *FileWidget) Path() string { return f.path }

// Value is the text last written or read.
func (f *FileWidget) Value() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// SetValue overwrites the file with text.
func (f *FileWidget) SetValue(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if text == f.last {
		return
	}
	f.last = text
	if err := os.WriteFile(f.path, []byte(text), 0o644); err != nil {
		f.logger.Warn("writing mirror file", zap.Error(err))
	}
}

// Watch calls onChange with the file's content whenever it is saved with
// text that differs from the last known value. It blocks until ctx is done.
func (f *FileWidget) Watch(ctx context.Context, onChange func(text string)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fsw.Close()

	// Editors often replace the file, so watch its directory.
	if err := fsw.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(f.path), err)
	}

	var (
		tmu   sync.Mutex
		timer *time.Timer
	)
	fire := func() {
		if ctx.Err() != nil {
			return
		}
		data, err := os.ReadFile(f.path)
		if err != nil {
			f.logger.Debug("reading mirror file", zap.Error(err))
			return
		}
		text := string(data)

		f.mu.Lock()
		changed := text != f.last
		if changed {
			f.last = text
		}
		f.mu.Unlock()

		if changed {
			onChange(text)
		}
	}
	defer func() {
		tmu.Lock()
		if timer != nil {
			timer.Stop()
		}
		tmu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("watcher event channel closed unexpectedly")
			}
			if filepath.Clean(evt.Name) != f.path {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
				continue
			}
			tmu.Lock()
			if timer == nil {
				timer = time.AfterFunc(f.debounce, fire)
			} else {
				timer.Reset(f.debounce)
			}
			tmu.Unlock()

		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed unexpectedly")
			}
			f.logger.Warn("watcher error", zap.Error(err))
		}
	}
}
