// Package handoff implements the Handoff Socket of spec §4.7: a
// SOCK_SEQPACKET UNIX listener that exchanges one accepted connection for
// one SCM_RIGHTS-passed copy of the segment's file descriptor, then closes
// the connection. Readers never get any protocol beyond that exchange.
package handoff

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Server listens on a UNIX socket and hands the segment fd to every
// connecting client.
type Server struct {
	path     string
	segFd    int
	listenFd int
	log      *logrus.Entry
	done     chan struct{}
}

// Listen creates (or replaces) the UNIX socket at path, group-writable and
// with SO_PASSCRED enabled, ready to Accept connections and hand out segFd
// (spec §4.7, §6.2).
func Listen(path string, segFd int) (*Server, error) {
	_ = os.Remove(path) // stale socket from a prior run

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return nil, fmt.Errorf("handoff: socket: %w", err)
	}

	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("handoff: bind %s: %w", path, err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PASSCRED, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("handoff: setsockopt SO_PASSCRED: %w", err)
	}

	if err := os.Chmod(path, 0o770); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("handoff: chmod %s: %w", path, err)
	}

	if err := unix.Listen(fd, 16); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("handoff: listen: %w", err)
	}

	return &Server{
		path:     path,
		segFd:    segFd,
		listenFd: fd,
		log:      logrus.WithField("component", "handoff"),
		done:     make(chan struct{}),
	}, nil
}

// Serve accepts connections until Close is called, handing the segment fd
// to each one. It is meant to run in its own goroutine; it returns nil
// when the listener is closed out from under it.
func (s *Server) Serve() error {
	for {
		connFd, _, err := unix.Accept4(s.listenFd, 0)
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("handoff: accept: %w", err)
		}
		go s.handleConnection(connFd)
	}
}

func (s *Server) handleConnection(connFd int) {
	id := uuid.New()
	log := s.log.WithField("conn", id.String())
	log.Debug("accepted handoff connection")
	defer func() {
		unix.Close(connFd)
		log.Debug("closed handoff connection")
	}()

	rights := unix.UnixRights(s.segFd)
	if err := unix.Sendmsg(connFd, nil, rights, nil, 0); err != nil {
		log.WithError(err).Warn("failed to send segment fd")
		return
	}
	log.Info("sent segment fd")
}

// Close stops Serve and removes the socket file (spec §6.3, "removed on
// shutdown").
func (s *Server) Close() error {
	close(s.done)
	if err := unix.Close(s.listenFd); err != nil {
		return err
	}
	return os.Remove(s.path)
}
