package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/rostersync/internal/testutil"
)

// newTestStore opens a store on a fresh temp directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{
		Path:  filepath.Join(t.TempDir(), "data.json"),
		Clock: testutil.NewFakeClock(),
	})
	require.NoError(t, err)
	return s
}

func TestStore_PutGetPreservesInsertionOrder(t *testing.T) {
	s := newTestStore(t)

	s.Put("charlie", Record{DisplayName: "C", OwnerRef: "100000000000000003"})
	s.Put("alpha", Record{DisplayName: "A", OwnerRef: "100000000000000001"})
	s.Put("bravo", Record{DisplayName: "B", OwnerRef: "100000000000000002"})

	require.Equal(t, []string{"charlie", "alpha", "bravo"}, s.Keys())

	rec, ok := s.Get("alpha")
	require.True(t, ok)
	require.Equal(t, "A", rec.DisplayName)

	// Replacing keeps the original position.
	s.Put("charlie", Record{DisplayName: "C2", OwnerRef: "100000000000000003"})
	require.Equal(t, []string{"charlie", "alpha", "bravo"}, s.Keys())
	require.Equal(t, 3, s.Len())
}

func TestStore_DeleteAndReset(t *testing.T) {
	s := newTestStore(t)
	s.Put("alpha", Record{DisplayName: "A"})
	s.Put("bravo", Record{DisplayName: "B"})

	require.True(t, s.Delete("alpha"))
	require.False(t, s.Delete("alpha"))
	require.Equal(t, []string{"bravo"}, s.Keys())

	s.Reset()
	require.Zero(t, s.Len())
	require.Empty(t, s.Members())
}

func TestStore_InsertRejectsExistingKey(t *testing.T) {
	s := newTestStore(t)

	require.True(t, s.Insert("alpha", Record{DisplayName: "A", OwnerRef: "100000000000000001"}))
	require.False(t, s.Insert("alpha", Record{DisplayName: "Other", OwnerRef: "100000000000000009"}))

	rec, ok := s.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "A", rec.DisplayName)
	assert.Equal(t, 1, s.Len())
}

func TestStore_UpdateDisplayNameKeepsOwner(t *testing.T) {
	s := newTestStore(t)
	s.Put("alpha", Record{DisplayName: "Old", OwnerRef: "123456789012345678"})

	require.True(t, s.UpdateDisplayName("alpha", "New"))
	rec, _ := s.Get("alpha")
	require.Equal(t, Record{DisplayName: "New", OwnerRef: "123456789012345678"}, rec)

	require.False(t, s.UpdateDisplayName("ghost", "X"))
	_, ok := s.Get("ghost")
	require.False(t, ok, "update must not create records")
}

func TestStore_PersistThenReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	s, err := Open(Config{Path: path})
	require.NoError(t, err)

	s.Put("zed", Record{DisplayName: "Zed", OwnerRef: "111111111111111111"})
	s.Put("amy", Record{DisplayName: "Amy", OwnerRef: "222222222222222222"})
	s.Persist(context.Background())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"displayName": "Zed"`)
	assert.Contains(t, string(data), `"discordId": "111111111111111111"`)
	assert.Less(t, strings.Index(string(data), `"zed"`), strings.Index(string(data), `"amy"`))

	reloaded, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.Equal(t, s.Members(), reloaded.Members())
}

func TestOpen_MissingFileStartsEmpty(t *testing.T) {
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "nope", "data.json")})
	require.NoError(t, err)
	require.Zero(t, s.Len())
}

func TestOpen_EmptyFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o644))

	s, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.Zero(t, s.Len())
}

func TestOpen_InvalidFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`["not","an","object"]`), 0o644))

	_, err := Open(Config{Path: path})
	require.Error(t, err)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}

func TestOpen_ToleratesMissingOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"legacy":{"displayName":"Old"}}`), 0o644))

	s, err := Open(Config{Path: path})
	require.NoError(t, err)
	rec, ok := s.Get("legacy")
	require.True(t, ok)
	require.Equal(t, "Old", rec.DisplayName)
	require.Empty(t, rec.OwnerRef)
}

func TestStore_PersistLoadRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		fs := afero.NewMemMapFs()
		s := New(Config{Path: "/data/data.json", Fs: fs, Clock: testutil.NewFakeClock()})

		n := rapid.IntRange(0, 15).Draw(rt, "n")
		for i := 0; i < n; i++ {
			key := rapid.StringMatching(`[A-Za-z0-9_]{3,20}`).Draw(rt, "key")
			s.Put(key, Record{
				DisplayName: rapid.String().Draw(rt, "name"),
				OwnerRef:    rapid.StringMatching(`[0-9]{17,20}`).Draw(rt, "owner"),
			})
		}
		s.Persist(context.Background())

		reloaded, err := Open(Config{Path: "/data/data.json", Fs: fs})
		if err != nil {
			rt.Fatalf("reload failed: %v", err)
		}
		if len(s.Members()) == 0 && len(reloaded.Members()) == 0 {
			return
		}
		require.Equal(rt, s.Members(), reloaded.Members())
	})
}

func TestValidKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"ab", false},
		{"abc", true},
		{"player_1", true},
		{"has space", false},
		{"dash-name", false},
		{"abcdefghijklmnopqrst", true},
		{"abcdefghijklmnopqrstu", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			require.Equal(t, tt.want, ValidKey(tt.key))
		})
	}
}

func TestValidOwnerRef(t *testing.T) {
	require.True(t, ValidOwnerRef("12345678901234567"))
	require.True(t, ValidOwnerRef("12345678901234567890"))
	require.False(t, ValidOwnerRef("1234567890123456"))
	require.False(t, ValidOwnerRef("<@12345678901234567>"))
}
