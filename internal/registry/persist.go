package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/zjrosen/rostersync/internal/log"
)

// Strategy names reported for each completed save.
const (
	StrategyRename       = "rename"
	StrategyRemoveRename = "remove_rename"
	StrategyCopy         = "copy"
	StrategyDirect       = "direct"
)

// replaceStrategy moves a fully written temp file onto the target.
// touched reports whether a failed attempt removed or truncated the target.
type replaceStrategy struct {
	name  string
	apply func(fs afero.Fs, tmp, target string) (touched bool, err error)
}

// replaceStrategies are tried in order until one succeeds.
var replaceStrategies = []replaceStrategy{
	{name: StrategyRename, apply: renameInto},
	{name: StrategyRemoveRename, apply: removeThenRename},
	{name: StrategyCopy, apply: copyOver},
}

// saveResult describes how a snapshot reached disk.
type saveResult struct {
	Strategy string
	Degraded bool
}

// writeSnapshot writes data to target. The target is replaced from a temp
// file in the same directory; only if the temp file itself cannot be written
// does it fall back to writing the target in place (Degraded).
func writeSnapshot(fs afero.Fs, target string, data []byte) (saveResult, error) {
	dir := filepath.Dir(target)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		log.ErrorErr(log.CatRegistry, "mkdir failed", err, "dir", dir)
	}

	tmpPath, err := writeTemp(fs, dir, filepath.Base(target), data)
	if err != nil {
		log.Warn(log.CatRegistry, "temp write failed, falling back to direct write", "error", err)
		if _, derr := writeFileSynced(fs, target, data); derr != nil {
			return saveResult{Strategy: StrategyDirect, Degraded: true},
				fmt.Errorf("direct write after temp failure (%v): %w", err, derr)
		}
		log.Warn(log.CatRegistry, "direct write OK (non-atomic)", "path", target)
		return saveResult{Strategy: StrategyDirect, Degraded: true}, nil
	}

	var (
		errs    []error
		touched bool
	)
	for _, s := range replaceStrategies {
		hit, err := s.apply(fs, tmpPath, target)
		if err != nil {
			touched = touched || hit
			log.Warn(log.CatRegistry, "replace strategy failed", "strategy", s.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		return saveResult{Strategy: s.name}, nil
	}

	err = errors.Join(errs...)
	if touched {
		// The temp file is now the only complete copy of the state.
		log.Error(log.CatRegistry, "target lost during replace, snapshot kept in temp file",
			"path", target, "temp", tmpPath)
		return saveResult{}, fmt.Errorf("replacing %s (snapshot kept at %s): %w", target, tmpPath, err)
	}
	_ = fs.Remove(tmpPath)
	return saveResult{}, fmt.Errorf("replacing %s: %w", target, err)
}

// writeTemp creates a uniquely named sibling of target and fills it.
func writeTemp(fs afero.Fs, dir, base string, data []byte) (string, error) {
	pattern := fmt.Sprintf("%s.tmp-%d-*", base, os.Getpid())
	f, err := afero.TempFile(fs, dir, pattern)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = fs.Remove(tmpPath)
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = fs.Remove(tmpPath)
		return "", fmt.Errorf("syncing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = fs.Remove(tmpPath)
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	return tmpPath, nil
}

func renameInto(fs afero.Fs, tmp, target string) (bool, error) {
	return false, fs.Rename(tmp, target)
}

func removeThenRename(fs afero.Fs, tmp, target string) (bool, error) {
	err := fs.Remove(target)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		return false, fs.Rename(tmp, target)
	default:
		return false, fmt.Errorf("removing target: %w", err)
	}
	return true, fs.Rename(tmp, target)
}

// copyOver rewrites target with the temp file's bytes. The temp file is
// removed only once the copy is on disk.
func copyOver(fs afero.Fs, tmp, target string) (bool, error) {
	data, err := afero.ReadFile(fs, tmp)
	if err != nil {
		return false, fmt.Errorf("reading temp file: %w", err)
	}
	opened, err := writeFileSynced(fs, target, data)
	if err != nil {
		return opened, err
	}
	_ = fs.Remove(tmp)
	return false, nil
}

// writeFileSynced truncates path and writes data. opened reports whether
// the truncation happened, i.e. whether a failure left path damaged.
func writeFileSynced(fs afero.Fs, path string, data []byte) (opened bool, err error) {
	f, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return false, err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return true, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return true, err
	}
	return true, f.Close()
}
