// Package announce defines the plaintext discovery datagram format.
//
// A node advertises itself with a single pipe-delimited line:
//
//	EXO_DISCOVERY|<name>|<address>|<port>|<cap1,cap2,...>|<memoryBytes>|<gpuOrEmpty>
//
// The socket the datagrams arrive on is shared with arbitrary broadcast
// traffic, so Parse is strict about the leading tag and field count and
// rejects anything else.
package announce

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Tag is the leading field every valid announcement must carry.
const Tag = "EXO_DISCOVERY"

// minFields is tag + name + address + port + capabilities + memory + gpu.
const minFields = 7

// ErrMalformed is returned for any datagram that does not parse as an
// announcement. Callers drop these silently.
var ErrMalformed = errors.New("malformed announcement")

// Announcement is the parsed form of a discovery datagram.
type Announcement struct {
	Name         string
	Address      string
	Port         int
	Capabilities []string
	MemoryBytes  uint64
	GPU          string
}

// Encode renders the announcement in wire format.
func (a Announcement) Encode() string {
	fields := []string{
		Tag,
		a.Name,
		a.Address,
		strconv.Itoa(a.Port),
		strings.Join(a.Capabilities, ","),
		strconv.FormatUint(a.MemoryBytes, 10),
		a.GPU,
	}
	return strings.Join(fields, "|")
}

// Parse decodes a datagram payload. Fields beyond the expected count are
// tolerated so newer nodes can append to the format.
func Parse(s string) (Announcement, error) {
	fields := strings.Split(strings.TrimRight(s, "\r\n"), "|")
	if len(fields) < minFields {
		return Announcement{}, fmt.Errorf("%w: got %d fields, want at least %d", ErrMalformed, len(fields), minFields)
	}
	if fields[0] != Tag {
		return Announcement{}, fmt.Errorf("%w: bad tag %q", ErrMalformed, fields[0])
	}

	if fields[2] == "" {
		return Announcement{}, fmt.Errorf("%w: empty address", ErrMalformed)
	}

	port, err := strconv.Atoi(fields[3])
	if err != nil || port <= 0 || port > 65535 {
		return Announcement{}, fmt.Errorf("%w: bad port %q", ErrMalformed, fields[3])
	}

	mem, err := strconv.ParseUint(fields[5], 10, 64)
	if err != nil {
		return Announcement{}, fmt.Errorf("%w: bad memory %q", ErrMalformed, fields[5])
	}

	return Announcement{
		Name:         fields[1],
		Address:      fields[2],
		Port:         port,
		Capabilities: splitCapabilities(fields[4]),
		MemoryBytes:  mem,
		GPU:          fields[6],
	}, nil
}

func splitCapabilities(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	caps := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			caps = append(caps, p)
		}
	}
	if len(caps) == 0 {
		return nil
	}
	return caps
}
