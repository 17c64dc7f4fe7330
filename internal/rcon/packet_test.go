package rcon

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketMarshalLayout(t *testing.T) {
	data, err := Packet{ID: 7, Type: TypeExecCommand, Body: "list"}.MarshalBinary()
	require.NoError(t, err)

	require.Len(t, data, 4+8+4+2)
	assert.Equal(t, int32(14), int32(binary.LittleEndian.Uint32(data[0:4])))
	assert.Equal(t, int32(7), int32(binary.LittleEndian.Uint32(data[4:8])))
	assert.Equal(t, TypeExecCommand, int32(binary.LittleEndian.Uint32(data[8:12])))
	assert.Equal(t, "list", string(data[12:16]))
	assert.Equal(t, []byte{0, 0}, data[16:])
}

func TestReadPacketSingleTrailingNul(t *testing.T) {
	var buf bytes.Buffer
	body := "There are 0 players online"
	_ = binary.Write(&buf, binary.LittleEndian, int32(headerSize+len(body)+1))
	_ = binary.Write(&buf, binary.LittleEndian, int32(3))
	_ = binary.Write(&buf, binary.LittleEndian, TypeResponseValue)
	buf.WriteString(body)
	buf.WriteByte(0)

	p, err := ReadPacket(&buf)
	require.NoError(t, err)
	assert.Equal(t, body, p.Body)
	assert.Equal(t, int32(3), p.ID)
}

func TestReadPacketRejectsBadSize(t *testing.T) {
	for name, size := range map[string]int32{
		"too small": 4,
		"negative":  -1,
		"too large": maxPacketSize + 1,
	} {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			_ = binary.Write(&buf, binary.LittleEndian, size)
			_, err := ReadPacket(&buf)
			assert.ErrorIs(t, err, ErrPacketSize)
		})
	}
}

func TestReadPacketTruncated(t *testing.T) {
	data, err := Packet{ID: 1, Type: TypeResponseValue, Body: "hello"}.MarshalBinary()
	require.NoError(t, err)

	_, err = ReadPacket(bytes.NewReader(data[:len(data)-3]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadPacketSequence(t *testing.T) {
	var buf bytes.Buffer
	_, err := Packet{ID: 1, Type: TypeResponseValue, Body: "a"}.WriteTo(&buf)
	require.NoError(t, err)
	_, err = Packet{ID: 2, Type: TypeResponseValue}.WriteTo(&buf)
	require.NoError(t, err)

	first, err := ReadPacket(&buf)
	require.NoError(t, err)
	second, err := ReadPacket(&buf)
	require.NoError(t, err)

	assert.Equal(t, "a", first.Body)
	assert.Equal(t, int32(2), second.ID)
	assert.Empty(t, second.Body)
}
