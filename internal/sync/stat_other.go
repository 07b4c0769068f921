//go:build !linux && !darwin

package sync

import (
	"fmt"
	"os"
)

func statFile(path string) (fileStat, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileStat{}, err
	}
	if !info.Mode().IsRegular() {
		return fileStat{}, fmt.Errorf("%w: %s", ErrUnsupportedType, path)
	}
	return fileStat{size: info.Size(), mtime: info.ModTime().UTC()}, nil
}
