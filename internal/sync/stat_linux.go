package sync

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

func statFile(path string) (fileStat, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return fileStat{}, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	if st.Mode&unix.S_IFMT != unix.S_IFREG {
		return fileStat{}, fmt.Errorf("%w: %s", ErrUnsupportedType, path)
	}
	sec, nsec := st.Mtim.Unix()
	return fileStat{
		dev:      uint64(st.Dev),
		ino:      uint64(st.Ino),
		size:     st.Size,
		mtime:    time.Unix(sec, nsec).UTC(),
		hasInode: true,
	}, nil
}
