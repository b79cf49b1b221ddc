package download

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DuplicatePolicy decides what happens when the destination already exists.
type DuplicatePolicy string

const (
	DuplicateOverwrite DuplicatePolicy = "overwrite"
	DuplicateSkip      DuplicatePolicy = "skip"
	DuplicateRename    DuplicatePolicy = "rename"
)

func ParseDuplicatePolicy(raw string) (DuplicatePolicy, error) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "", string(DuplicateRename):
		return DuplicateRename, nil
	case string(DuplicateOverwrite):
		return DuplicateOverwrite, nil
	case string(DuplicateSkip):
		return DuplicateSkip, nil
	default:
		return "", fmt.Errorf("invalid on-duplicate policy: %q", raw)
	}
}

// resolveExisting applies policy to path. skip is true when the existing
// file should be kept and nothing downloaded.
func resolveExisting(path string, policy DuplicatePolicy) (out string, skip bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return path, false, nil
		}
		return "", false, err
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("output path is a directory: %s", path)
	}
	switch policy {
	case DuplicateOverwrite:
		return path, false, nil
	case DuplicateSkip:
		return path, true, nil
	default:
		next, err := nextAvailablePath(path)
		return next, false, err
	}
}

func nextAvailablePath(path string) (string, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	for i := 1; i < 10000; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", name, i, ext))
		if _, err := os.Stat(candidate); err != nil {
			if os.IsNotExist(err) {
				return candidate, nil
			}
			return "", err
		}
	}
	return "", fmt.Errorf("unable to find available filename for %s", path)
}
