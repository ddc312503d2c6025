package haltty

import (
	"encoding/binary"
	"fmt"
)

// Control pipe: driver -> stub. A stream of single tag bytes.
const ctlStep byte = 's'

// Info pipe: stub -> driver. Four raw bytes (the slave pid) once, then a
// stream of tag-prefixed, self-framed records.
const (
	infoReady byte = 'r'
	infoDied  byte = 'd'
)

// eventKind distinguishes the decoded info-pipe events the driver's event
// loop reacts to.
type eventKind int

const (
	eventReady eventKind = iota
	eventDied
	eventStubEOF
)

// deathEvent carries the payload of an infoDied record.
type deathEvent struct {
	kind eventKind
	sig  byte
	code byte
}

// encodePid renders a pid as the 4-byte big-endian handshake value written
// once by the stub immediately after it forks the slave.
func encodePid(pid int) [4]byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(pid))
	return buf
}

func decodePid(buf []byte) (int, error) {
	if len(buf) != 4 {
		return 0, fmt.Errorf("haltty: pid handshake must be 4 bytes, got %d", len(buf))
	}
	return int(binary.BigEndian.Uint32(buf)), nil
}

// encodeDied renders a "d<sig><code>" record.
func encodeDied(sig, code byte) [3]byte {
	return [3]byte{infoDied, sig, code}
}
