package credstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()

	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   NewFileStore(filepath.Join(t.TempDir(), "nested", "credentials.json")),
	}
}

func TestStore_GetAbsent(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			v, err := s.Get(KindAccess)
			require.NoError(t, err)
			assert.Empty(t, v)
		})
	}
}

func TestStore_SetVisibleToNextGet(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(KindAccess, "A1"))

			v, err := s.Get(KindAccess)
			require.NoError(t, err)
			assert.Equal(t, "A1", v)

			require.NoError(t, s.Set(KindAccess, "A2"))

			v, err = s.Get(KindAccess)
			require.NoError(t, err)
			assert.Equal(t, "A2", v)
		})
	}
}

func TestStore_Clear(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, SavePair(s, Pair{Access: "A1", Refresh: "R1"}))
			require.NoError(t, s.Clear())

			_, ok, err := LoadPair(s)
			require.NoError(t, err)
			assert.False(t, ok)

			// Clearing twice is fine.
			require.NoError(t, s.Clear())
		})
	}
}

func TestStore_UnknownKind(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(Kind("bogus"))
			require.ErrorIs(t, err, ErrUnknownKind)

			err = s.Set(Kind("bogus"), "x")
			require.ErrorIs(t, err, ErrUnknownKind)
		})
	}
}

func TestLoadPair_PartialIsAbsent(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Set(KindAccess, "A1"))

	_, ok, err := LoadPair(s)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(KindRefresh, "R1"))

	p, ok, err := LoadPair(s)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Pair{Access: "A1", Refresh: "R1"}, p)
}

func TestSavePair_RejectsPartial(t *testing.T) {
	s := NewMemoryStore()

	err := SavePair(s, Pair{Access: "A1"})
	require.Error(t, err)

	v, err := s.Get(KindAccess)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	require.NoError(t, SavePair(NewFileStore(path), Pair{Access: "A1", Refresh: "R1"}))

	p, ok, err := LoadPair(NewFileStore(path))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A1", p.Access)
	assert.Equal(t, "R1", p.Refresh)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())
}

func TestFileStore_SeesExternalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	reader := NewFileStore(path)
	writer := NewFileStore(path)

	require.NoError(t, SavePair(writer, Pair{Access: "A1", Refresh: "R1"}))

	v, err := reader.Get(KindAccess)
	require.NoError(t, err)
	assert.Equal(t, "A1", v)

	require.NoError(t, SavePair(writer, Pair{Access: "A2", Refresh: "R2"}))

	v, err = reader.Get(KindAccess)
	require.NoError(t, err)
	assert.Equal(t, "A2", v)
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), FilePerms))

	_, err := NewFileStore(path).Get(KindAccess)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding")
}

func TestFileStore_NoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "credentials.json"))

	require.NoError(t, SavePair(s, Pair{Access: "A1", Refresh: "R1"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "credentials.json", entries[0].Name())
}
