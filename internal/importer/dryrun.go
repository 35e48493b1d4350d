package importer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/matsen/papers2zotero/internal/zotero"
)

// DryRun serializes each buffered triple to a text sink instead of the
// network. The destination "stdout" (or "-") writes to standard output.
type DryRun struct {
	w      io.Writer
	closer io.Closer // nil when writing to stdout
}

// NewDryRun opens a dry-run sink for the given destination.
func NewDryRun(dest string) (*DryRun, error) {
	if dest == "stdout" || dest == "-" {
		return &DryRun{w: os.Stdout}, nil
	}
	f, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("creating dry-run output: %w", err)
	}
	return &DryRun{w: f, closer: f}, nil
}

// NewDryRunWriter wraps an arbitrary writer. Used by tests.
func NewDryRunWriter(w io.Writer) *DryRun {
	return &DryRun{w: w}
}

// Write emits the ITEM, NOTES and ATTACHMENTS blocks for one publication.
func (d *DryRun) Write(item zotero.Item, notes []string, attachments []string) error {
	if err := d.block("ITEM", item); err != nil {
		return err
	}
	if err := d.block("NOTES", notes); err != nil {
		return err
	}
	return d.block("ATTACHMENTS", attachments)
}

func (d *DryRun) block(label string, payload any) error {
	data, err := json.MarshalIndent(payload, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding %s block: %w", label, err)
	}
	if _, err := fmt.Fprintf(d.w, "%s:\n%s\n", label, data); err != nil {
		return fmt.Errorf("writing %s block: %w", label, err)
	}
	return nil
}

// Close closes the underlying file, if any.
func (d *DryRun) Close() error {
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}
