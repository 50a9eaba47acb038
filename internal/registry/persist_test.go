package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/rostersync/internal/testutil"
)

// faultFs wraps a real filesystem and lets a test intercept renames,
// removes and temp-file creation.
type faultFs struct {
	afero.Fs

	renames        atomic.Int32
	onRename       func(oldname, newname string) error
	onRemove       func(name string) error
	failTempCreate bool
}

func (f *faultFs) Rename(oldname, newname string) error {
	f.renames.Add(1)
	if f.onRename != nil {
		if err := f.onRename(oldname, newname); err != nil {
			return err
		}
	}
	return f.Fs.Rename(oldname, newname)
}

func (f *faultFs) Remove(name string) error {
	if f.onRemove != nil {
		if err := f.onRemove(name); err != nil {
			return err
		}
	}
	return f.Fs.Remove(name)
}

func (f *faultFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if f.failTempCreate && strings.Contains(filepath.Base(name), ".tmp-") {
		return nil, errors.New("disk full")
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func tempLeftovers(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestWriteSnapshot_RenameStrategy(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "data.json")

	res, err := writeSnapshot(afero.NewOsFs(), target, []byte(`{"a":1}`))
	require.NoError(t, err)
	require.Equal(t, saveResult{Strategy: StrategyRename}, res)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(data))
	require.Empty(t, tempLeftovers(t, dir))
}

func TestWriteSnapshot_CreatesMissingDirectory(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "deeper", "data.json")

	_, err := writeSnapshot(afero.NewOsFs(), target, []byte(`{}`))
	require.NoError(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, `{}`, string(data))
}

func TestWriteSnapshot_FallsBackToRemoveThenRename(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o644))

	fs := &faultFs{Fs: afero.NewOsFs()}
	fs.onRename = func(_, _ string) error {
		if fs.renames.Load() == 1 {
			return errors.New("target locked")
		}
		return nil
	}

	res, err := writeSnapshot(fs, target, []byte("new"))
	require.NoError(t, err)
	require.Equal(t, StrategyRemoveRename, res.Strategy)
	require.False(t, res.Degraded)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "new", string(data))
	require.Empty(t, tempLeftovers(t, dir))
}

func TestWriteSnapshot_FallsBackToCopy(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o644))

	fs := &faultFs{Fs: afero.NewOsFs()}
	fs.onRename = func(_, _ string) error { return errors.New("cross-device") }

	res, err := writeSnapshot(fs, target, []byte("copied"))
	require.NoError(t, err)
	require.Equal(t, StrategyCopy, res.Strategy)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "copied", string(data))
	require.Empty(t, tempLeftovers(t, dir), "copy must remove the temp file")
}

func TestWriteSnapshot_DegradedDirectWriteWhenTempFails(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "data.json")

	fs := &faultFs{Fs: afero.NewOsFs(), failTempCreate: true}

	res, err := writeSnapshot(fs, target, []byte("direct"))
	require.NoError(t, err)
	require.Equal(t, saveResult{Strategy: StrategyDirect, Degraded: true}, res)
	require.Zero(t, fs.renames.Load())

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "direct", string(data))
}

func TestWriteSnapshot_AllStrategiesFailKeepsOldContent(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o644))

	base := afero.NewOsFs()
	fs := &faultFs{Fs: base}
	fs.onRename = func(_, _ string) error { return errors.New("rename denied") }
	fs.onRemove = func(name string) error {
		if name == target {
			return errors.New("remove denied")
		}
		return nil
	}
	ro := &readOnlyTargetFs{faultFs: fs, target: target}

	_, err := writeSnapshot(ro, target, []byte("new"))
	require.Error(t, err)
	require.ErrorContains(t, err, StrategyRename)
	require.ErrorContains(t, err, StrategyCopy)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "old", string(data))
	require.Empty(t, tempLeftovers(t, dir))
}

func TestWriteSnapshot_TargetRemovedThenAllFailKeepsTempCopy(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o644))

	fs := &faultFs{Fs: afero.NewOsFs()}
	fs.onRename = func(_, _ string) error { return errors.New("rename denied") }
	ro := &readOnlyTargetFs{faultFs: fs, target: target}

	_, err := writeSnapshot(ro, target, []byte("new"))
	require.Error(t, err)
	require.ErrorContains(t, err, StrategyRemoveRename)
	require.ErrorContains(t, err, "snapshot kept at")

	_, statErr := os.Stat(target)
	require.True(t, os.IsNotExist(statErr))

	leftovers := tempLeftovers(t, dir)
	require.Len(t, leftovers, 1)
	data, err := os.ReadFile(filepath.Join(dir, leftovers[0]))
	require.NoError(t, err)
	require.Equal(t, "new", string(data))
}

func TestCopyOver_FailureKeepsTemp(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "data.json")
	tmp := filepath.Join(dir, "data.json.tmp-1-x")
	require.NoError(t, os.WriteFile(tmp, []byte("new"), 0o644))

	ro := &readOnlyTargetFs{faultFs: &faultFs{Fs: afero.NewOsFs()}, target: target}

	touched, err := copyOver(ro, tmp, target)
	require.Error(t, err)
	require.False(t, touched)
	require.FileExists(t, tmp)

	touched, err = copyOver(afero.NewOsFs(), tmp, target)
	require.NoError(t, err)
	require.False(t, touched)
	require.NoFileExists(t, tmp)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "new", string(data))
}

// readOnlyTargetFs refuses to open target for writing.
type readOnlyTargetFs struct {
	*faultFs
	target string
}

func (f *readOnlyTargetFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if name == f.target && flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		return nil, errors.New("read-only")
	}
	return f.faultFs.OpenFile(name, flag, perm)
}

func TestStore_PersistCoalescesBurst(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	fs := &faultFs{Fs: afero.NewOsFs()}
	fs.onRename = func(_, _ string) error {
		once.Do(func() {
			close(entered)
			<-release
		})
		return nil
	}

	s := New(Config{Path: path, Fs: fs, Clock: testutil.NewFakeClock()})
	s.Put("first", Record{DisplayName: "First"})

	done := make(chan struct{})
	go func() {
		s.Persist(context.Background())
		close(done)
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first write never reached rename")
	}

	for i := 0; i < 10; i++ {
		s.Put("burst", Record{DisplayName: "Burst"})
		s.Persist(context.Background())
	}
	s.Put("last", Record{DisplayName: "Last"})
	s.Persist(context.Background())

	close(release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("persist did not finish")
	}

	require.Equal(t, int32(2), fs.renames.Load(), "burst must collapse into one follow-up write")

	reloaded, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.Equal(t, []string{"first", "burst", "last"}, reloaded.Keys())
}

func TestStore_PersistFailureIsSwallowed(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "data.json")

	fs := &faultFs{Fs: afero.NewOsFs()}
	fs.onRename = func(_, _ string) error { return errors.New("nope") }
	fs.onRemove = func(name string) error {
		if name == target {
			return errors.New("nope")
		}
		return nil
	}
	ro := &readOnlyTargetFs{faultFs: fs, target: target}

	s := New(Config{Path: target, Fs: ro, Clock: testutil.NewFakeClock()})
	s.Put("alpha", Record{DisplayName: "A"})

	require.NotPanics(t, func() { s.Persist(context.Background()) })
	rec, ok := s.Get("alpha")
	require.True(t, ok, "in-memory state survives a failed write")
	require.Equal(t, "A", rec.DisplayName)
}
