package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Transport is the shared record store a gate session and its external
// responder communicate through. It has three logical slots: the prompt,
// the response, and an active marker. Implementations must tolerate the
// responder being a separate process.
type Transport interface {
	// WritePrompt replaces the prompt slot.
	WritePrompt(p *PromptRecord) error

	// ReadPrompt returns the current prompt, or nil if the slot is empty.
	ReadPrompt() (*PromptRecord, error)

	// WriteResponse replaces the response slot. Called by the responder.
	WriteResponse(r *Response) error

	// ReadResponse returns the current response, or nil if the slot is
	// empty or not yet fully written.
	ReadResponse() (*Response, error)

	// ClearResponse empties the response slot.
	ClearResponse() error

	// SetActive marks whether a session is in progress.
	SetActive(active bool) error

	// Active reports the active marker.
	Active() (bool, error)

	// Clear removes all three slots.
	Clear() error

	// Changes returns a channel that receives a signal when a slot may
	// have changed, or nil if the transport cannot watch for changes.
	// Receivers must still re-read the slots; signals can be spurious.
	Changes() <-chan struct{}

	// Close releases transport resources.
	Close() error
}

const (
	promptFile   = "gate_prompt.json"
	responseFile = "gate_response.json"
	statusFile   = "gate_status.json"
)

type statusRecord struct {
	Active bool `json:"active"`
}

// FileTransport implements Transport over three JSON files in a directory,
// so any external process with filesystem access can act as the responder.
// An fsnotify watch on the directory turns responder writes into wake
// signals; callers still poll as a fallback.
type FileTransport struct {
	dir     string
	logger  *slog.Logger
	changes chan struct{}

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewFileTransport creates the directory if needed and starts the change
// watcher. A watcher failure is not fatal: the transport degrades to
// poll-only and Changes returns nil.
func NewFileTransport(dir string, logger *slog.Logger) (*FileTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create gate directory %s: %w", dir, err)
	}

	t := &FileTransport{
		dir:    dir,
		logger: logger.With("component", "gate.FileTransport"),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.logger.Warn("fsnotify unavailable, gate falls back to polling", "error", err)
		return t, nil
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		t.logger.Warn("failed to watch gate directory, falling back to polling",
			"dir", dir,
			"error", err,
		)
		return t, nil
	}

	t.watcher = watcher
	t.changes = make(chan struct{}, 1)
	go t.watchLoop(watcher)

	return t, nil
}

func (t *FileTransport) watchLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				// Coalesce: a pending signal is enough.
				select {
				case t.changes <- struct{}{}:
				default:
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			t.logger.Error("fsnotify error", "error", err)
		}
	}
}

func (t *FileTransport) WritePrompt(p *PromptRecord) error {
	return t.writeJSON(promptFile, p)
}

func (t *FileTransport) ReadPrompt() (*PromptRecord, error) {
	p := &PromptRecord{}
	ok, err := t.readJSON(promptFile, p)
	if err != nil || !ok {
		return nil, err
	}
	return p, nil
}

func (t *FileTransport) WriteResponse(r *Response) error {
	return t.writeJSON(responseFile, r)
}

func (t *FileTransport) ReadResponse() (*Response, error) {
	r := &Response{}
	ok, err := t.readJSON(responseFile, r)
	if err != nil || !ok {
		return nil, err
	}
	return r, nil
}

func (t *FileTransport) ClearResponse() error {
	return t.remove(responseFile)
}

func (t *FileTransport) SetActive(active bool) error {
	return t.writeJSON(statusFile, &statusRecord{Active: active})
}

func (t *FileTransport) Active() (bool, error) {
	s := &statusRecord{}
	ok, err := t.readJSON(statusFile, s)
	if err != nil || !ok {
		return false, err
	}
	return s.Active, nil
}

// Clear removes all three slots. Missing files are not errors: cleanup
// must be idempotent.
func (t *FileTransport) Clear() error {
	var firstErr error
	for _, name := range []string{promptFile, responseFile, statusFile} {
		if err := t.remove(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *FileTransport) Changes() <-chan struct{} {
	return t.changes
}

func (t *FileTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.watcher != nil {
		err := t.watcher.Close()
		t.watcher = nil
		return err
	}
	return nil
}

// writeJSON writes via a temp file and rename so readers in another
// process never see a partial record.
func (t *FileTransport) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	tmp := filepath.Join(t.dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, filepath.Join(t.dir, name)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", name, err)
	}
	return nil
}

func (t *FileTransport) readJSON(name string, v interface{}) (bool, error) {
	data, err := os.ReadFile(filepath.Join(t.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		// A malformed record is treated as absent; the writer may be
		// mid-replace or the responder wrote garbage.
		t.logger.Warn("discarding malformed gate record", "file", name, "error", err)
		return false, nil
	}
	return true, nil
}

func (t *FileTransport) remove(name string) error {
	err := os.Remove(filepath.Join(t.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
