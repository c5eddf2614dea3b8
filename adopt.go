package fdshare

import "os"

// adopt turns a raw descriptor received as ancillary socket data into the
// caller-facing owned handle. The raw integer is wrapped exactly once: from
// here on the *os.File owns the kernel-table entry, its Close closes it, and
// no other wrapper ever refers to the same entry. protocol.RecvStatus has
// already set close-on-exec on the descriptor.
func adopt(fd int, name string) *os.File {
	return os.NewFile(uintptr(fd), name)
}
