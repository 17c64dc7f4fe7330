package rcon

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Packet types. Exec and auth-response share the same value on the wire;
// which one is meant depends on the direction.
const (
	TypeResponseValue int32 = 0
	TypeExecCommand   int32 = 2
	TypeAuthResponse  int32 = 2
	TypeAuth          int32 = 3
)

const (
	// headerSize covers the request id and type fields that follow the length.
	headerSize = 8
	// paddingSize is the NUL terminating the body plus the empty trailing string.
	paddingSize = 2

	// MaxCommandSize is the largest command body a Minecraft server accepts.
	MaxCommandSize = 1446
	// MaxResponseBody is the largest body a server puts in a single packet.
	MaxResponseBody = 4096

	maxPacketSize = MaxResponseBody + headerSize + paddingSize
	minPacketSize = headerSize + paddingSize
)

// authFailedID is stamped on the auth response when the password is wrong.
const authFailedID int32 = -1

var (
	ErrCommandTooLong = errors.New("rcon: command too long")
	ErrPacketSize     = errors.New("rcon: invalid packet size")
)

// Packet is a single RCON frame.
type Packet struct {
	ID   int32
	Type int32
	Body string
}

// size is the value of the length prefix: everything after the prefix itself.
func (p Packet) size() int32 {
	return int32(len(p.Body) + headerSize + paddingSize)
}

// MarshalBinary encodes the packet including its length prefix.
func (p Packet) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 4+p.size()))
	for _, v := range []int32{p.size(), p.ID, p.Type} {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	buf.WriteString(p.Body)
	buf.Write([]byte{0, 0})
	return buf.Bytes(), nil
}

// WriteTo writes the encoded packet to w.
func (p Packet) WriteTo(w io.Writer) (int64, error) {
	data, err := p.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// ReadPacket reads exactly one packet from r.
func ReadPacket(r io.Reader) (Packet, error) {
	var size int32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return Packet{}, err
	}
	if size < minPacketSize || size > maxPacketSize {
		return Packet{}, fmt.Errorf("%w: %d", ErrPacketSize, size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Packet{}, err
	}

	// Some servers only send a single trailing NUL inside the declared size.
	body := bytes.TrimRight(data[headerSize:], "\x00")

	return Packet{
		ID:   int32(binary.LittleEndian.Uint32(data[0:4])),
		Type: int32(binary.LittleEndian.Uint32(data[4:8])),
		Body: string(body),
	}, nil
}
