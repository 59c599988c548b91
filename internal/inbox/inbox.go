// Package inbox manages the watched directory: it corrals loose archives
// into batch directories, lists the batches waiting to be published and
// relocates them to the backup and error directories afterwards.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/git-pkgs/publisher/internal/core"
	"github.com/git-pkgs/publisher/internal/filename"
	"github.com/git-pkgs/publisher/internal/metrics"
)

const (
	batchIDLength  = 7
	suffixIDLength = 5

	// maxNameAttempts bounds the search for an unused random name.
	maxNameAttempts = 5
)

// Batch is one directory of archives under the inbox.
type Batch struct {
	Name string
	Path string
}

// Inbox owns the watched directory and its two destinations.
type Inbox struct {
	root      string
	backupDir string
	errorDir  string

	moveConcurrency int
	logger          *log.Logger
	metrics         metrics.Metrics
	newID           func() string
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithMoveConcurrency caps concurrent file moves.
func WithMoveConcurrency(n int) Option {
	return func(in *Inbox) {
		if n > 0 {
			in.moveConcurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(in *Inbox) {
		if l != nil {
			in.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) Option {
	return func(in *Inbox) {
		if m != nil {
			in.metrics = m
		}
	}
}

// New returns an Inbox watching root.
func New(root, backupDir, errorDir string, opts ...Option) *Inbox {
	in := &Inbox{
		root:            root,
		backupDir:       backupDir,
		errorDir:        errorDir,
		moveConcurrency: core.DefaultMoveConcurrency,
		logger:          log.Default(),
		metrics:         metrics.Noop{},
		newID:           uuid.NewString,
	}
	for _, opt := range opts {
		opt(in)
	}
	in.logger = in.logger.WithPrefix("inbox")
	return in
}

// Root returns the watched directory.
func (in *Inbox) Root() string {
	return in.root
}

// Reorganize moves archives lying directly in the inbox into a new batch
// directory and returns its path, or "" when there was nothing to move.
// Files that fail to move stay where they are for the next pass.
func (in *Inbox) Reorganize(ctx context.Context) (string, error) {
	entries, err := os.ReadDir(in.root)
	if err != nil {
		return "", &core.IOError{Op: "readdir", Path: in.root, Err: err}
	}

	var loose []string
	for _, e := range entries {
		if e.Type().IsRegular() && filename.IsArchive(e.Name()) {
			loose = append(loose, e.Name())
		}
	}
	if len(loose) == 0 {
		return "", nil
	}

	dir, err := in.freshDir(in.root, batchIDLength)
	if err != nil {
		return "", err
	}
	in.logger.Info("moving loose archives into a batch", "count", len(loose), "batch", filepath.Base(dir))

	var (
		mu   sync.Mutex
		errs []error
	)
	err = core.ForEachLimit(ctx, loose, in.moveConcurrency, func(_ context.Context, _ int, name string) {
		if err := move(filepath.Join(in.root, name), filepath.Join(dir, name)); err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	})
	if err != nil {
		errs = append(errs, err)
	}

	return dir, errors.Join(errs...)
}

// Poll reorganizes the inbox and returns the batch directories in it, in
// directory listing order. A failed reorganization is logged, not returned.
func (in *Inbox) Poll(ctx context.Context) ([]Batch, error) {
	if _, err := in.Reorganize(ctx); err != nil {
		in.metrics.IncRelocationErrors(metrics.RelocationInbox)
		in.logger.Error("reorganizing inbox", "error", err)
	}

	entries, err := os.ReadDir(in.root)
	if err != nil {
		return nil, &core.IOError{Op: "readdir", Path: in.root, Err: err}
	}

	var batches []Batch
	for _, e := range entries {
		if e.IsDir() {
			batches = append(batches, Batch{Name: e.Name(), Path: filepath.Join(in.root, e.Name())})
		}
	}
	return batches, nil
}

// DestinationName returns the name a batch is stored under in the backup
// directory: its own name, or the name with a short random suffix when a
// backup of that name already exists. The error directory reuses it.
// An unreadable backup directory is returned as *core.IOError.
func (in *Inbox) DestinationName(b Batch) (string, error) {
	name := b.Name
	for range maxNameAttempts {
		path := filepath.Join(in.backupDir, name)
		_, err := os.Lstat(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			return name, nil
		case err != nil:
			return "", &core.IOError{Op: "stat", Path: path, Err: err}
		}
		name = b.Name + "-" + in.shortID(suffixIDLength)
	}
	return "", &core.IOError{Op: "stat", Path: filepath.Join(in.backupDir, b.Name), Err: fmt.Errorf("no free backup name")}
}

// Archive moves the whole batch to <backup>/<destName> and returns the
// final path. An existing backup is never overwritten; a new suffix is
// picked instead.
func (in *Inbox) Archive(b Batch, destName string) (string, error) {
	dst := filepath.Join(in.backupDir, destName)
	if _, err := os.Lstat(dst); err == nil {
		fresh, err := in.DestinationName(Batch{Name: destName})
		if err != nil {
			return "", err
		}
		dst = filepath.Join(in.backupDir, fresh)
	}
	if err := move(b.Path, dst); err != nil {
		return "", err
	}
	in.logger.Info("moved batch to backup", "batch", b.Name, "as", filepath.Base(dst))
	return dst, nil
}

// Quarantine moves each failed archive to <error>/<destName>/<filename>.
// When that file already exists the source is deleted instead, keeping the
// first recorded failure. Every task is attempted; errors are joined.
func (in *Inbox) Quarantine(ctx context.Context, destName string, failed []core.Task) error {
	if len(failed) == 0 {
		return nil
	}
	dir := filepath.Join(in.errorDir, destName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &core.IOError{Op: "mkdir", Path: dir, Err: err}
	}

	var (
		mu    sync.Mutex
		errs  []error
		moved int
	)
	err := core.ForEachLimit(ctx, failed, in.moveConcurrency, func(_ context.Context, _ int, task core.Task) {
		dst := filepath.Join(dir, task.Filename)
		var err error
		if _, statErr := os.Lstat(dst); statErr == nil {
			if rmErr := os.Remove(task.Path); rmErr != nil {
				err = &core.IOError{Op: "remove", Path: task.Path, Err: rmErr}
			}
		} else {
			err = move(task.Path, dst)
		}
		mu.Lock()
		if err != nil {
			errs = append(errs, err)
		} else {
			moved++
		}
		mu.Unlock()
	})
	if err != nil {
		errs = append(errs, err)
	}

	in.logger.Info("moved failed archives", "count", moved, "to", dir)
	return errors.Join(errs...)
}

// freshDir creates a new directory under parent named by a random id.
func (in *Inbox) freshDir(parent string, n int) (string, error) {
	for range maxNameAttempts {
		dir := filepath.Join(parent, in.shortID(n))
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", &core.IOError{Op: "mkdir", Path: dir, Err: err}
		}
	}
	return "", &core.IOError{Op: "mkdir", Path: parent, Err: fmt.Errorf("no free batch name")}
}

func (in *Inbox) shortID(n int) string {
	id := in.newID()
	if len(id) > n {
		return id[:n]
	}
	return id
}
