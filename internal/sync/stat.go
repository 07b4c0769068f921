package sync

import "time"

// fileStat is the part of stat(2) the index needs
type fileStat struct {
	dev, ino uint64
	size     int64
	mtime    time.Time
	// hasInode is false on platforms where dev/ino are unavailable;
	// the fscache is bypassed there
	hasInode bool
}
