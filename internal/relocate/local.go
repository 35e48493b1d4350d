package relocate

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Local relocates files on the local filesystem. By default the source
// file is copied and preserved; with DeleteSource set the file is moved.
type Local struct {
	// DeleteSource removes the original after a successful copy.
	DeleteSource bool

	log *slog.Logger
}

// NewLocal creates a local filesystem mover.
func NewLocal(deleteSource bool, log *slog.Logger) *Local {
	if log == nil {
		log = slog.Default()
	}
	return &Local{DeleteSource: deleteSource, log: log}
}

// Move copies (or moves) fromPath to toPath, creating destination
// directories as needed. I/O failures are logged and reported as false.
func (m *Local) Move(_ context.Context, fromPath, toPath string) bool {
	if err := os.MkdirAll(filepath.Dir(toPath), 0755); err != nil {
		m.log.Error("creating destination directory", "path", filepath.Dir(toPath), "err", err)
		return false
	}

	if err := copyFile(fromPath, toPath); err != nil {
		m.log.Error("copying attachment", "from", fromPath, "to", toPath, "err", err)
		return false
	}

	if m.DeleteSource {
		if err := os.Remove(fromPath); err != nil {
			m.log.Error("removing source after move", "path", fromPath, "err", err)
			return false
		}
	}
	return true
}

func copyFile(from, to string) error {
	src, err := os.Open(from)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(to)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(to)
		return err
	}
	return dst.Close()
}
