package handoff

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Connect dials the handoff socket at path and returns the segment file
// descriptor passed back over SCM_RIGHTS. The caller owns the returned fd
// and is responsible for mmap'ing and eventually closing it.
func Connect(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return -1, fmt.Errorf("handoff: socket: %w", err)
	}
	defer unix.Close(fd)

	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Connect(fd, addr); err != nil {
		return -1, fmt.Errorf("handoff: connect %s: %w", path, err)
	}

	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))
	_, oobn, _, _, err := unix.Recvmsg(fd, buf, oob, 0)
	if err != nil {
		return -1, fmt.Errorf("handoff: recvmsg: %w", err)
	}

	messages, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, fmt.Errorf("handoff: parse control message: %w", err)
	}
	if len(messages) == 0 {
		return -1, fmt.Errorf("handoff: server sent no control message")
	}

	fds, err := unix.ParseUnixRights(&messages[0])
	if err != nil {
		return -1, fmt.Errorf("handoff: parse unix rights: %w", err)
	}
	if len(fds) == 0 {
		return -1, fmt.Errorf("handoff: server sent no file descriptors")
	}
	return fds[0], nil
}
