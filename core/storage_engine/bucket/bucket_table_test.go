package bucket

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
	"go.uber.org/zap/zaptest"
)

// --- Test Helpers ---

func setupTable(t *testing.T) (*Table, string) {
	t.Helper()
	root := t.TempDir()
	table := NewTable(root, zaptest.NewLogger(t))
	require.NoError(t, table.Load(filepath.Join(root, "ab", "cd")))
	return table, root
}

func paths(t *testing.T, table *Table, filter string, exact bool) []string {
	t.Helper()
	var seen []string
	_, err := table.Accept(VisitorFunc(func(e *Entry) int {
		seen = append(seen, e.Path())
		return Continue
	}), filter, exact, true)
	require.NoError(t, err)
	return seen
}

// --- Test Cases ---

func TestOccurrence_Layout(t *testing.T) {
	id := uuid.New()
	b := Occurrence(id, 0x0102030405060708)
	require.Len(t, b, DataLength)
	require.Equal(t, id[:], b[:16])
	require.Equal(t, []byte{8, 7, 6, 5, 4, 3, 2, 1}, b[16:], "timestamps are little endian")
}

func TestTable_AddBlobSortsNewestFirst(t *testing.T) {
	table, _ := setupTable(t)
	older, newer, newest := uuid.New(), uuid.New(), uuid.New()

	table.AddBlob("/p/file.txt", newer, 200)
	table.AddBlob("/p/file.txt", older, 100)
	table.AddBlob("/p/file.txt", newest, 300)
	table.AddBlob("/p/file.txt", older, 999)

	e := table.GetEntry("/p/file.txt")
	require.Equal(t, 3, e.Occurrences(), "duplicate uuid is ignored")
	require.Equal(t, []uuid.UUID{newest, newer, older}, []uuid.UUID{e.UUID(0), e.UUID(1), e.UUID(2)})
	require.Equal(t, int64(300), e.Timestamp(0))

	require.True(t, table.GetEntry("/missing").IsEmpty())
}

func TestTable_SaveAndLoad(t *testing.T) {
	table, root := setupTable(t)
	id := uuid.New()
	table.AddBlob("/p/a", id, 42)
	table.AddBlob("/p/b", uuid.New(), 7)
	require.NoError(t, table.Save())

	file := filepath.Join(root, "ab", "cd", FileName)
	raw, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Equal(t, byte(1), raw[0])
	require.Equal(t, []byte{0, 0, 0, 2}, raw[1:5])

	other := NewTable(root, zaptest.NewLogger(t))
	require.NoError(t, other.Load(filepath.Join(root, "ab", "cd")))
	e := other.GetEntry("/p/a")
	require.Equal(t, 1, e.Occurrences())
	require.Equal(t, id, e.UUID(0))
	require.Equal(t, int64(42), e.Timestamp(0))
}

func TestTable_LoadSavesPreviousBucket(t *testing.T) {
	table, root := setupTable(t)
	table.AddBlob("/p/a", uuid.New(), 1)

	require.NoError(t, table.Load(filepath.Join(root, "ef")))
	require.FileExists(t, filepath.Join(root, "ab", "cd", FileName))
	require.True(t, table.GetEntry("/p/a").IsEmpty(), "new bucket starts empty")

	table.AddBlob("/p/z", uuid.New(), 1)
	require.NoError(t, table.Load(filepath.Join(root, "ef")), "reloading the same dir keeps memory")
	require.False(t, table.GetEntry("/p/z").IsEmpty())
}

func TestTable_LoadRejectsBadVersion(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "x")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte{9, 0, 0, 0, 0}, 0644))

	err := NewTable(root, zaptest.NewLogger(t)).Load(dir)
	require.ErrorIs(t, err, flushmanager.ErrStoreFormat)
}

func TestTable_AcceptFilters(t *testing.T) {
	table, _ := setupTable(t)
	for _, p := range []string{"/a", "/a/b", "/a/b/c", "/a/bc", "/z"} {
		table.AddBlob(p, uuid.New(), 1)
	}

	require.Equal(t, []string{"/a/b", "/a/b/c"}, paths(t, table, "/a/b", false), "prefix matching works on whole segments")
	require.Equal(t, []string{"/a/b"}, paths(t, table, "/a/b", true))
	require.Len(t, paths(t, table, "/", false), 5)
}

func TestTable_AcceptControlCodes(t *testing.T) {
	table, root := setupTable(t)
	for _, p := range []string{"/a", "/b", "/c", "/d"} {
		table.AddBlob(p, uuid.New(), 1)
	}

	outcome, err := table.Accept(VisitorFunc(func(e *Entry) int {
		if e.Path() == "/b" {
			return Delete | Stop
		}
		return Continue
	}), "/", false, true)
	require.NoError(t, err)
	require.Equal(t, Stop, outcome)
	require.Equal(t, []string{"/a", "/c", "/d"}, paths(t, table, "/", false))

	var visited int
	outcome, err = table.Accept(VisitorFunc(func(e *Entry) int {
		visited++
		return Return
	}), "/", false, true)
	require.NoError(t, err)
	require.Equal(t, Return, outcome)
	require.Equal(t, 1, visited)

	// Accept saves on exit.
	other := NewTable(root, zaptest.NewLogger(t))
	require.NoError(t, other.Load(filepath.Join(root, "ab", "cd")))
	require.True(t, other.GetEntry("/b").IsEmpty())
	require.False(t, other.GetEntry("/c").IsEmpty())
}

func TestTable_UpdateDropsDeletedOccurrences(t *testing.T) {
	table, _ := setupTable(t)
	keep, drop := uuid.New(), uuid.New()
	table.AddBlob("/f", keep, 2)
	table.AddBlob("/f", drop, 1)
	table.AddBlob("/g", uuid.New(), 1)

	_, err := table.Accept(VisitorFunc(func(e *Entry) int {
		for i := 0; i < e.Occurrences(); i++ {
			if e.UUID(i) == drop || e.Path() == "/g" {
				e.DeleteOccurrence(i)
				require.True(t, e.IsDeleted(i))
			} else {
				require.False(t, e.IsDeleted(i))
			}
		}
		return Update
	}), "/", false, true)
	require.NoError(t, err)

	e := table.GetEntry("/f")
	require.Equal(t, 1, e.Occurrences())
	require.Equal(t, keep, e.UUID(0))
	require.True(t, table.GetEntry("/g").IsEmpty(), "an entry with no occurrences left is removed")
}

func TestTable_DeletingChangesWithoutUpdateAreDiscarded(t *testing.T) {
	table, _ := setupTable(t)
	table.AddBlob("/f", uuid.New(), 1)

	_, err := table.Accept(VisitorFunc(func(e *Entry) int {
		e.DeleteOccurrence(0)
		return Continue
	}), "/", false, true)
	require.NoError(t, err)
	require.Equal(t, 1, table.GetEntry("/f").Occurrences())
}

func TestTable_AddBlobsMerges(t *testing.T) {
	table, _ := setupTable(t)
	shared, fresh := uuid.New(), uuid.New()
	table.AddBlob("/f", shared, 1)

	table.AddBlobs(NewEntry("/f", [][]byte{Occurrence(shared, 1), Occurrence(fresh, 5)}))
	e := table.GetEntry("/f")
	require.Equal(t, 2, e.Occurrences())
	require.Equal(t, fresh, e.UUID(0))

	table.AddBlobs(NewEntry("/new", [][]byte{Occurrence(fresh, 5)}))
	require.Equal(t, 1, table.GetEntry("/new").Occurrences())
}

func TestTable_EmptyTableDeletesFileAndDirs(t *testing.T) {
	table, root := setupTable(t)
	table.AddBlob("/f", uuid.New(), 1)
	require.NoError(t, table.Save())
	require.FileExists(t, filepath.Join(root, "ab", "cd", FileName))

	_, err := table.Accept(VisitorFunc(func(e *Entry) int { return Delete }), "/", false, true)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, "ab"))
	require.True(t, os.IsNotExist(err), "empty bucket directories are pruned")
	require.DirExists(t, root)
}
