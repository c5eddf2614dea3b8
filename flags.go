package fdshare

import "golang.org/x/sys/unix"

// OpenFlag is a bitmask of open(2) flags supported by the helper. The values
// are the kernel's own; the helper hands them to open(2) verbatim with no
// reinterpretation, so any combination the kernel accepts works here too.
type OpenFlag int

const (
	O_RDONLY OpenFlag = unix.O_RDONLY
	O_WRONLY OpenFlag = unix.O_WRONLY
	O_RDWR   OpenFlag = unix.O_RDWR

	O_APPEND    OpenFlag = unix.O_APPEND
	O_CREAT     OpenFlag = unix.O_CREAT
	O_DIRECTORY OpenFlag = unix.O_DIRECTORY
	O_NOFOLLOW  OpenFlag = unix.O_NOFOLLOW
	O_PATH      OpenFlag = unix.O_PATH
	O_TRUNC     OpenFlag = unix.O_TRUNC
)

// DefaultFlags is what Factory.Open uses when no flags are given: read-write
// access, creating the file if missing (mode 0600 on the helper's side).
const DefaultFlags = O_RDWR | O_CREAT
