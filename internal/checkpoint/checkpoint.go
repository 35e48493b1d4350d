// Package checkpoint tracks which source records have been migrated, so an
// interrupted run can resume without re-importing anything.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
)

// Checkpoint is a durable pair of id sets: records that were imported
// successfully and records that failed permanently. Ids staged with Add are
// only persisted by Commit, after the remote outcome of a batch is known.
//
// An id is never in both sets after a commit: success takes precedence, and
// re-staging a previously failed id removes it from the failed set.
type Checkpoint struct {
	path      string
	succeeded map[int64]struct{}
	failed    map[int64]struct{}
	pending   []int64
}

// state is the on-disk shape of a checkpoint.
type state struct {
	Succeeded []int64 `json:"succeeded"`
	Failed    []int64 `json:"failed"`
}

// Load reads the checkpoint at path, or starts an empty one if the file
// does not exist yet.
func Load(path string) (*Checkpoint, error) {
	cp := &Checkpoint{
		path:      path,
		succeeded: make(map[int64]struct{}),
		failed:    make(map[int64]struct{}),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cp, nil
		}
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing checkpoint: %w", err)
	}
	for _, id := range st.Succeeded {
		cp.succeeded[id] = struct{}{}
	}
	for _, id := range st.Failed {
		cp.failed[id] = struct{}{}
	}
	return cp, nil
}

// Contains reports whether id is in the committed-success set.
func (c *Checkpoint) Contains(id int64) bool {
	_, ok := c.succeeded[id]
	return ok
}

// ContainsFailed reports whether id is in the failed set.
func (c *Checkpoint) ContainsFailed(id int64) bool {
	_, ok := c.failed[id]
	return ok
}

// Add stages id as pending-success for the next commit. A new attempt
// supersedes a prior failure, so id is dropped from the failed set.
func (c *Checkpoint) Add(id int64) {
	c.pending = append(c.pending, id)
	delete(c.failed, id)
}

// AddFailed marks id as failed. May be called after its batch committed,
// to record a downstream failure (a note or attachment) discovered after
// the item itself was created.
func (c *Checkpoint) AddFailed(id int64) {
	c.failed[id] = struct{}{}
}

// Pending returns the ids staged since the last commit or rollback, in
// staging order.
func (c *Checkpoint) Pending() []int64 {
	return slices.Clone(c.pending)
}

// CountSucceeded returns the size of the committed-success set.
func (c *Checkpoint) CountSucceeded() int {
	return len(c.succeeded)
}

// FailedIDs returns the failed set, sorted.
func (c *Checkpoint) FailedIDs() []int64 {
	ids := make([]int64, 0, len(c.failed))
	for id := range c.failed {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Commit moves every pending id that has not since been marked failed into
// the success set, persists both sets atomically, and clears the pending
// list. A persistence error is fatal to the run: without a trustworthy
// resume point, continuing risks duplicate imports.
func (c *Checkpoint) Commit() error {
	for _, id := range c.pending {
		if _, failed := c.failed[id]; !failed {
			c.succeeded[id] = struct{}{}
		}
	}

	if err := c.persist(); err != nil {
		return err
	}
	c.pending = nil
	return nil
}

// Rollback discards all pending ids without persisting. Used when a batch
// submission itself failed, to avoid recording state that does not match
// remote reality.
func (c *Checkpoint) Rollback() {
	c.pending = nil
}

// persist writes both sets via write-then-rename so a crash mid-write can
// never leave a truncated checkpoint.
func (c *Checkpoint) persist() error {
	st := state{
		Succeeded: setToSorted(c.succeeded),
		Failed:    setToSorted(c.failed),
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing checkpoint: %w", err)
	}
	return nil
}

func setToSorted(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
