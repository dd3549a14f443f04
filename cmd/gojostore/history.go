package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sushant-115/gojostore/core/storage_engine/bucket"
	"github.com/zeebo/blake3"
)

// HistoryGroup records and inspects resource history kept in bucket tables.
// A path's history lives in the bucket named after the first byte of the
// path's BLAKE3 digest.
type HistoryGroup struct {
	Add   HistoryAddCmd   `cmd:"" help:"Record a state of a resource"`
	List  HistoryListCmd  `cmd:"" help:"List recorded states"`
	Prune HistoryPruneCmd `cmd:"" help:"Forget states older than a timestamp"`
}

func bucketDir(root, p string) string {
	sum := blake3.Sum256([]byte(p))
	return filepath.Join(root, hex.EncodeToString(sum[:1]))
}

// eachBucket loads every bucket directory under root into table in turn.
func eachBucket(table *bucket.Table, root string, fn func() error) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != bucket.FileName {
			return nil
		}
		if err := table.Load(filepath.Dir(path)); err != nil {
			return err
		}
		return fn()
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return table.Save()
}

type HistoryAddCmd struct {
	Path      string `arg:"" help:"Resource path"`
	ID        string `name:"id" help:"State UUID (default: a new one)"`
	Timestamp int64  `name:"timestamp" help:"Modification time in milliseconds (default: now)"`
}

func (c *HistoryAddCmd) Run(a *app) error {
	id := uuid.New()
	if c.ID != "" {
		parsed, err := uuid.Parse(c.ID)
		if err != nil {
			return err
		}
		id = parsed
	}
	ts := c.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	table := bucket.NewTable(a.historyRoot(), a.logger)
	if err := table.Load(bucketDir(a.historyRoot(), c.Path)); err != nil {
		return err
	}
	table.AddBlob(c.Path, id, ts)
	if err := table.Save(); err != nil {
		return err
	}
	fmt.Fprintln(a.out, id)
	return nil
}

type HistoryListCmd struct {
	Filter string `arg:"" optional:"" help:"Path or ancestor to list (default: all)"`
	Exact  bool   `name:"exact" help:"Only the path itself, not its descendants"`
}

func (c *HistoryListCmd) Run(a *app) error {
	table := bucket.NewTable(a.historyRoot(), a.logger)
	visitor := bucket.VisitorFunc(func(e *bucket.Entry) int {
		for i := 0; i < e.Occurrences(); i++ {
			ts := time.UnixMilli(e.Timestamp(i)).UTC().Format(time.RFC3339)
			fmt.Fprintf(a.out, "%s\t%s\t%s\n", e.Path(), e.UUID(i), ts)
		}
		return bucket.Continue
	})
	return eachBucket(table, a.historyRoot(), func() error {
		_, err := table.Accept(visitor, c.Filter, c.Exact, true)
		return err
	})
}

type HistoryPruneCmd struct {
	Before int64  `arg:"" help:"Forget states whose timestamp (ms) is older than this"`
	Filter string `arg:"" optional:"" help:"Path or ancestor to prune (default: all)"`
}

func (c *HistoryPruneCmd) Run(a *app) error {
	table := bucket.NewTable(a.historyRoot(), a.logger)
	var pruned int
	visitor := bucket.VisitorFunc(func(e *bucket.Entry) int {
		changed := false
		for i := 0; i < e.Occurrences(); i++ {
			if e.Timestamp(i) < c.Before {
				e.DeleteOccurrence(i)
				pruned++
				changed = true
			}
		}
		if changed {
			return bucket.Update
		}
		return bucket.Continue
	})
	if err := eachBucket(table, a.historyRoot(), func() error {
		_, err := table.Accept(visitor, c.Filter, false, false)
		return err
	}); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "pruned %d\n", pruned)
	return nil
}
