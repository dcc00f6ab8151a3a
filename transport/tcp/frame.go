// Package tcp implements a duplex conn.Transport over a plain TCP socket
// (spec.md §1's "binary-capable duplex transport"), adapted from the
// teacher's protocol.go + client_transport.go + server.go handleConn.
//
// The teacher's 14-byte header (magic + version + codec + msgType + seq +
// bodyLen) folded both framing (how many bytes is this message) and RPC
// semantics (request vs response vs heartbeat, sequence number) into one
// struct, because message.RPCMessage carried no envelope of its own. Here
// transportdata.TransportData's binary box already carries kind/sn/service
// — so the frame header here is reduced to pure framing: a magic, a
// version, and a length prefix. Everything else rides inside the box.
package tcp

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	magicByte1 byte = 0x74 // 't'
	magicByte2 byte = 0x73 // 's'
	version    byte = 0x01

	headerSize = 7 // 2 (magic) + 1 (version) + 4 (uint32 length)
)

// writeFrame writes [magic(2)][version(1)][len(4, BE)][payload].
func writeFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, headerSize+len(payload))
	buf[0] = magicByte1
	buf[1] = magicByte2
	buf[2] = version
	binary.BigEndian.PutUint32(buf[3:7], uint32(len(payload)))
	copy(buf[7:], payload)
	_, err := w.Write(buf)
	return err
}

// readFrame reads one frame and returns its payload.
func readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 7)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if header[0] != magicByte1 || header[1] != magicByte2 {
		return nil, fmt.Errorf("tcp: invalid frame magic %x%x", header[0], header[1])
	}
	if header[2] != version {
		return nil, fmt.Errorf("tcp: unsupported frame version %d", header[2])
	}
	n := binary.BigEndian.Uint32(header[3:7])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
