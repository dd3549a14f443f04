package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sushant-115/gojostore/core/indexedstore"
)

// CreateCmd creates a store file.
type CreateCmd struct {
	Store string `arg:"" help:"Store file name"`
}

func (c *CreateCmd) Run(a *app) error {
	path := a.manager.Path(c.Store)
	if indexedstore.Exists(path) {
		return fmt.Errorf("store %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := indexedstore.Create(path, a.logger); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "created %s\n", path)
	return nil
}

// PutCmd stores a new object, optionally indexing it under a key.
type PutCmd struct {
	Store string `arg:"" help:"Store file name"`
	Value string `arg:"" help:"Object contents"`
	Index string `name:"index" help:"Index to add the new object to"`
	Key   string `name:"key" help:"Key under which the object is indexed"`
}

func (c *PutCmd) Run(a *app) error {
	id, err := a.manager.CreateObject(a.ctx, c.Store, []byte(c.Value))
	if err != nil {
		return err
	}
	if c.Index != "" {
		if err := a.manager.IndexInsert(a.ctx, c.Store, c.Index, []byte(c.Key), id); err != nil {
			return err
		}
	}
	fmt.Fprintln(a.out, id)
	return nil
}

func parseID(s string) (indexedstore.ObjectID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid object id %q: %w", s, err)
	}
	return indexedstore.ObjectID(n), nil
}

// GetCmd prints an object.
type GetCmd struct {
	Store string `arg:"" help:"Store file name"`
	ID    string `arg:"" help:"Object id"`
}

func (c *GetCmd) Run(a *app) error {
	id, err := parseID(c.ID)
	if err != nil {
		return err
	}
	value, err := a.manager.GetObject(a.ctx, c.Store, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s\n", value)
	return nil
}

// UpdateCmd replaces an object's contents.
type UpdateCmd struct {
	Store string `arg:"" help:"Store file name"`
	ID    string `arg:"" help:"Object id"`
	Value string `arg:"" help:"New contents"`
}

func (c *UpdateCmd) Run(a *app) error {
	id, err := parseID(c.ID)
	if err != nil {
		return err
	}
	return a.manager.UpdateObject(a.ctx, c.Store, id, []byte(c.Value))
}

// RemoveCmd removes an object.
type RemoveCmd struct {
	Store string `arg:"" help:"Store file name"`
	ID    string `arg:"" help:"Object id"`
}

func (c *RemoveCmd) Run(a *app) error {
	id, err := parseID(c.ID)
	if err != nil {
		return err
	}
	return a.manager.RemoveObject(a.ctx, c.Store, id)
}

// IndexGroup contains index operations.
type IndexGroup struct {
	Create IndexCreateCmd `cmd:"" help:"Create an empty index"`
	Insert IndexInsertCmd `cmd:"" help:"Add a key -> object id entry"`
	Match  IndexMatchCmd  `cmd:"" help:"Print the object ids under keys with a prefix"`
	Remove IndexRemoveCmd `cmd:"" help:"Remove all entries with a key"`
	Drop   IndexDropCmd   `cmd:"" help:"Destroy an index"`
	List   IndexListCmd   `cmd:"" help:"List index names"`
}

type IndexCreateCmd struct {
	Store string `arg:"" help:"Store file name"`
	Name  string `arg:"" help:"Index name"`
}

func (c *IndexCreateCmd) Run(a *app) error {
	return a.manager.CreateIndex(a.ctx, c.Store, c.Name)
}

type IndexInsertCmd struct {
	Store string `arg:"" help:"Store file name"`
	Name  string `arg:"" help:"Index name"`
	Key   string `arg:"" help:"Key"`
	ID    string `arg:"" help:"Object id"`
}

func (c *IndexInsertCmd) Run(a *app) error {
	id, err := parseID(c.ID)
	if err != nil {
		return err
	}
	return a.manager.IndexInsert(a.ctx, c.Store, c.Name, []byte(c.Key), id)
}

type IndexMatchCmd struct {
	Store  string `arg:"" help:"Store file name"`
	Name   string `arg:"" help:"Index name"`
	Prefix string `arg:"" optional:"" help:"Key prefix; empty matches every entry"`
}

func (c *IndexMatchCmd) Run(a *app) error {
	ids, err := a.manager.IndexMatch(a.ctx, c.Store, c.Name, []byte(c.Prefix))
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintln(a.out, id)
	}
	return nil
}

type IndexRemoveCmd struct {
	Store string `arg:"" help:"Store file name"`
	Name  string `arg:"" help:"Index name"`
	Key   string `arg:"" help:"Key"`
}

func (c *IndexRemoveCmd) Run(a *app) error {
	n, err := a.manager.IndexRemove(a.ctx, c.Store, c.Name, []byte(c.Key))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "removed %d\n", n)
	return nil
}

type IndexDropCmd struct {
	Store string `arg:"" help:"Store file name"`
	Name  string `arg:"" help:"Index name"`
}

func (c *IndexDropCmd) Run(a *app) error {
	return a.manager.RemoveIndex(a.ctx, c.Store, c.Name)
}

type IndexListCmd struct {
	Store string `arg:"" help:"Store file name"`
}

func (c *IndexListCmd) Run(a *app) error {
	names, err := a.manager.IndexNames(a.ctx, c.Store)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Fprintln(a.out, n)
	}
	return nil
}

// CommitCmd commits a store.
type CommitCmd struct {
	Store string `arg:"" help:"Store file name"`
}

func (c *CommitCmd) Run(a *app) error { return a.manager.Commit(a.ctx, c.Store) }

// RollbackCmd discards a store's pending changes.
type RollbackCmd struct {
	Store string `arg:"" help:"Store file name"`
}

func (c *RollbackCmd) Run(a *app) error { return a.manager.Rollback(a.ctx, c.Store) }

// StatsCmd prints page cache statistics.
type StatsCmd struct {
	Store string `arg:"" help:"Store file name"`
}

func (c *StatsCmd) Run(a *app) error {
	st, err := a.manager.Stats(a.ctx, c.Store)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "pages=%d reads=%d cache_hits=%d file_reads=%d file_writes=%d writes=%d\n",
		st.Pages, st.Reads, st.CacheHits, st.FileReads, st.FileWrites, st.Writes)
	return nil
}

// BackupCmd backs a store up.
type BackupCmd struct {
	Store string `arg:"" help:"Store file name"`
}

func (c *BackupCmd) Run(a *app) error {
	res, err := a.manager.Backup(a.ctx, c.Store)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s blake3:%s (%d bytes)\n", res.Path, res.Digest, res.Bytes)
	return nil
}
