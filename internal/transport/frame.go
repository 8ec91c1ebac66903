package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const MaxFrameSize = 1 << 20

var (
	ErrFrameTooLarge = errors.New("frame exceeds max size")
	ErrBadSendMode   = errors.New("unknown send mode")
)

// ReadFrame reads one length-prefixed frame:
// [u32 body length][u8 mode][mode header][payload bytes].
func ReadFrame(reader io.Reader) (*Message, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(reader, sizeBuf[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(sizeBuf[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d", ErrFrameTooLarge, size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(reader, data); err != nil {
		return nil, err
	}
	return decodeBody(data)
}

func WriteFrame(writer io.Writer, m *Message) error {
	body, err := encodeBody(m)
	if err != nil {
		return err
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d", ErrFrameTooLarge, len(body))
	}

	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(len(body)))

	if _, err := writer.Write(sizeBuf[:]); err != nil {
		return err
	}
	_, err = writer.Write(body)
	return err
}

func encodeBody(m *Message) ([]byte, error) {
	if !m.Mode.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrBadSendMode, m.Mode)
	}
	payload := m.Bytes()
	hdr := m.Mode.HeaderBits() / 8
	body := make([]byte, 1+hdr+len(payload))
	body[0] = byte(m.Mode)
	switch m.Mode {
	case Reliable:
		binary.BigEndian.PutUint16(body[1:3], m.Seq)
	case Notify:
		binary.BigEndian.PutUint16(body[1:3], m.Seq)
		binary.BigEndian.PutUint32(body[3:7], m.Ack)
	}
	copy(body[1+hdr:], payload)
	return body, nil
}

func decodeBody(data []byte) (*Message, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty frame", ErrShortMessage)
	}
	mode := SendMode(data[0])
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrBadSendMode, data[0])
	}
	hdr := mode.HeaderBits() / 8
	if len(data) < 1+hdr {
		return nil, fmt.Errorf("%w: %s header", ErrShortMessage, mode)
	}
	m := MessageFrom(mode, data[1+hdr:])
	switch mode {
	case Reliable:
		m.Seq = binary.BigEndian.Uint16(data[1:3])
	case Notify:
		m.Seq = binary.BigEndian.Uint16(data[1:3])
		m.Ack = binary.BigEndian.Uint32(data[3:7])
	}
	return m, nil
}
