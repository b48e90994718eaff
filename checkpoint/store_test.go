package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/moplog/moplog/cfg"
	"github.com/moplog/moplog/oplog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDoc = `
period = 5000

[source]
host = "mongodb://localhost:27017"
db = "local"
collection = "oplog.$main"

[collections]
"test.content" = "testHandler"

[http]
port = 9191
`

func writeDoc(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestFileStore_AbsentDocumentYieldsDefaults(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "configDoesNotExist.toml"))

	rc, err := store.Load()
	require.NoError(t, err)

	def := cfg.Default()
	expected := RuntimeConfig{
		Source:      def.Source,
		Collections: map[string]string{},
		Period:      5000,
		LastTs:      0,
	}
	assert.Equal(t, expected, rc)
	assert.Equal(t, expected, store.Config())
	assert.True(t, rc.Position().IsZero())
}

func TestFileStore_CorruptDocument(t *testing.T) {
	path := writeDoc(t, "config.json", `{"source": `)
	store := NewFileStore(path)

	_, err := store.Load()
	require.Error(t, err)

	var loadErr *ConfigLoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, path, loadErr.Path)
}

func TestFileStore_SaveRewritesLastTsInPlace(t *testing.T) {
	path := writeDoc(t, "config.toml", testDoc)
	store := NewFileStore(path)
	_, err := store.Load()
	require.NoError(t, err)

	pos := oplog.Position{T: 1429559473, I: 2}
	require.NoError(t, store.Save(pos))
	assert.Equal(t, pos.Millis(), store.Config().LastTs)

	reloaded := NewFileStore(path)
	rc, err := reloaded.Load()
	require.NoError(t, err)
	assert.Equal(t, pos, rc.Position())
	assert.Equal(t, map[string]string{"test.content": "testHandler"}, rc.Collections)
	assert.Equal(t, 9191, reloaded.Document().HTTP.Port, "non-checkpoint fields survive the rewrite")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStore_LargeOrdinalResumesBeforePosition(t *testing.T) {
	path := writeDoc(t, "config.toml", testDoc)
	store := NewFileStore(path)
	_, err := store.Load()
	require.NoError(t, err)

	pos := oplog.Position{T: 100, I: 1001}
	require.NoError(t, store.Save(pos))

	reloaded := NewFileStore(path)
	rc, err := reloaded.Load()
	require.NoError(t, err)
	assert.Equal(t, int64(100999), rc.LastTs)
	assert.Equal(t, oplog.Position{T: 100, I: 999}, rc.Position())
	assert.True(t, rc.Position().Less(pos), "resume position must not pass the saved one")
}

func TestFileStore_SaveJSONDocument(t *testing.T) {
	path := writeDoc(t, "config.json", `{"collections": {"test.content": "testHandler"}}`)
	store := NewFileStore(path)
	_, err := store.Load()
	require.NoError(t, err)

	require.NoError(t, store.Save(oplog.FromMillis(1430017181001)))

	var doc cfg.Configuration
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Decode(data, true, &doc))
	assert.Equal(t, int64(1430017181001), doc.LastTs)
}

func TestFileStore_SaveFailureIsPersistError(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "missing-dir", "config.toml"))
	_, err := store.Load()
	require.NoError(t, err)

	pos := oplog.Position{T: 10, I: 1}
	err = store.Save(pos)
	require.Error(t, err)

	var persistErr *PersistError
	require.True(t, errors.As(err, &persistErr))
	assert.Equal(t, pos, persistErr.Position)
	assert.Equal(t, pos.Millis(), store.Config().LastTs)
}

func TestFileStore_ConcurrentSaves(t *testing.T) {
	path := writeDoc(t, "config.toml", testDoc)
	store := NewFileStore(path)
	_, err := store.Load()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.Save(oplog.Position{T: uint32(i), I: 0}))
		}(i)
	}
	wg.Wait()

	reloaded := NewFileStore(path)
	rc, err := reloaded.Load()
	require.NoError(t, err)
	assert.Equal(t, store.Config().LastTs, rc.LastTs)
}

func TestConfig_SnapshotIsIsolated(t *testing.T) {
	path := writeDoc(t, "config.toml", testDoc)
	store := NewFileStore(path)
	_, err := store.Load()
	require.NoError(t, err)

	snap := store.Config()
	snap.Collections["evil.ns"] = "other"

	assert.NotContains(t, store.Config().Collections, "evil.ns")
}

func TestOpen_PebbleWithoutPathCreatesNothing(t *testing.T) {
	workDir := t.TempDir()
	prevDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(workDir))
	t.Cleanup(func() { _ = os.Chdir(prevDir) })

	doc := testDoc + "\n[checkpoint]\nbackend = \"pebble\"\n"
	_, err = Open(writeDoc(t, "config.toml", doc))
	var loadErr *ConfigLoadError
	require.ErrorAs(t, err, &loadErr)

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOpen_SelectsBackend(t *testing.T) {
	store, err := Open(writeDoc(t, "config.toml", testDoc))
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)

	dataDir := t.TempDir()
	doc := testDoc + "\n[checkpoint]\nbackend = \"pebble\"\npath = \"" + filepath.ToSlash(dataDir) + "\"\n"
	store, err = Open(writeDoc(t, "config.toml", doc))
	require.NoError(t, err)
	assert.IsType(t, &PebbleStore{}, store)
	require.NoError(t, store.Close())
}
