// Package statsclient is the external reader's end-to-end API (spec §4.3,
// §6.2, scenarios 1 and 5): connect to the handoff socket, map the segment
// read-only, and take lock-free snapshots of the directory (and the
// counter vectors it points at) via the epoch protocol.
package statsclient

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/quarkline/statseg/directory"
	"github.com/quarkline/statseg/epoch"
	"github.com/quarkline/statseg/handoff"
	"github.com/quarkline/statseg/segment"
)

// Client is one reader process's connection to a writer's segment.
type Client struct {
	reader *segment.Reader
}

// Connect dials path (spec §4.7's handoff socket), receives the segment
// fd, fstats it for size, and maps it read-only.
func Connect(path string) (*Client, error) {
	fd, err := handoff.Connect(path)
	if err != nil {
		return nil, err
	}

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("statsclient: fstat: %w", err)
	}

	reader, err := segment.OpenReader(fd, int(stat.Size))
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &Client{reader: reader}, nil
}

// Close unmaps the segment. It has no effect on the writer.
func (c *Client) Close() error { return c.reader.Close() }

// Directory decodes the current directory vector into a View without the
// epoch protocol. Callers wanting a consistent snapshot across possibly
// several reads (e.g. Directory + a Vector read) should wrap the whole
// sequence in Snapshot instead.
func (c *Client) Directory() directory.View {
	offset, count := c.reader.DirectoryVector()
	return directory.NewView(c.reader.HeapBytes(), offset, uint32(count))
}

// Snapshot runs body against a directory View and the reader's raw heap
// bytes under the epoch retry protocol (spec §4.3), so that a writer
// transaction concurrent with the read cannot hand body a torn view.
func (c *Client) Snapshot(body func(dir directory.View, heap []byte)) (attempts int, err error) {
	return epoch.Snapshot(c.reader, func() {
		body(c.Directory(), c.reader.HeapBytes())
	})
}

// Lookup resolves name to its directory entry under the epoch protocol,
// returning ok=false if no live entry has that name.
func (c *Client) Lookup(name string) (entry directory.Entry, ok bool, err error) {
	_, err = c.Snapshot(func(dir directory.View, _ []byte) {
		if idx, found := dir.ByName()[name]; found {
			entry, ok = dir.Get(idx)
		}
	})
	return entry, ok, err
}
