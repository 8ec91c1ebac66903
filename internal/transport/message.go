package transport

import (
	"errors"
	"fmt"
)

var (
	ErrShortMessage  = errors.New("read past end of message")
	ErrBitWidth      = errors.New("bit width out of range")
	ErrFieldTooLarge = errors.New("field exceeds message limits")
)

// maxFieldBytes bounds length-prefixed fields so a corrupt prefix cannot
// trigger a huge allocation.
const maxFieldBytes = 1 << 20

// Message is a raw wire message with independent bit-level read and write
// cursors. Bits are packed LSB first inside each byte.
type Message struct {
	Mode SendMode
	Seq  uint16
	Ack  uint32

	buf  []byte
	wbit int
	rbit int
}

func NewMessage(mode SendMode) *Message {
	return &Message{Mode: mode, buf: make([]byte, 0, 64)}
}

// MessageFrom wraps already received bytes; the read cursor starts at bit 0.
func MessageFrom(mode SendMode, data []byte) *Message {
	return &Message{Mode: mode, buf: data, wbit: len(data) * 8}
}

func (m *Message) Reset() {
	m.buf = m.buf[:0]
	m.wbit = 0
	m.rbit = 0
	m.Seq = 0
	m.Ack = 0
}

// Bytes returns the written bits rounded up to whole bytes.
func (m *Message) Bytes() []byte {
	return m.buf[:(m.wbit+7)/8]
}

func (m *Message) BitLen() int    { return m.wbit }
func (m *Message) ReadPos() int   { return m.rbit }
func (m *Message) Remaining() int { return m.wbit - m.rbit }

// Rewind moves the read cursor back to the first bit.
func (m *Message) Rewind() { m.rbit = 0 }

func (m *Message) WriteBits(v uint64, n int) {
	if n < 0 || n > 64 {
		panic(fmt.Sprintf("transport: %v: %d", ErrBitWidth, n))
	}
	for n > 0 {
		idx := m.wbit >> 3
		if idx == len(m.buf) {
			m.buf = append(m.buf, 0)
		}
		off := m.wbit & 7
		take := 8 - off
		if take > n {
			take = n
		}
		mask := uint64(1)<<take - 1
		m.buf[idx] |= byte((v & mask) << off)
		v >>= take
		n -= take
		m.wbit += take
	}
}

func (m *Message) ReadBits(n int) (uint64, error) {
	if n < 0 || n > 64 {
		return 0, fmt.Errorf("%w: %d", ErrBitWidth, n)
	}
	if m.rbit+n > m.wbit {
		return 0, fmt.Errorf("%w: need %d bits, have %d", ErrShortMessage, n, m.Remaining())
	}
	var v uint64
	shift := 0
	for n > 0 {
		idx := m.rbit >> 3
		off := m.rbit & 7
		take := 8 - off
		if take > n {
			take = n
		}
		b := uint64(m.buf[idx]>>off) & (uint64(1)<<take - 1)
		v |= b << shift
		shift += take
		n -= take
		m.rbit += take
	}
	return v, nil
}

func (m *Message) WriteBool(v bool) {
	if v {
		m.WriteBits(1, 1)
		return
	}
	m.WriteBits(0, 1)
}

func (m *Message) ReadBool() (bool, error) {
	v, err := m.ReadBits(1)
	return v == 1, err
}

func (m *Message) WriteUint8(v uint8)   { m.WriteBits(uint64(v), 8) }
func (m *Message) WriteUint16(v uint16) { m.WriteBits(uint64(v), 16) }
func (m *Message) WriteUint32(v uint32) { m.WriteBits(uint64(v), 32) }
func (m *Message) WriteUint64(v uint64) { m.WriteBits(v, 64) }
func (m *Message) WriteInt32(v int32)   { m.WriteBits(uint64(uint32(v)), 32) }
func (m *Message) WriteInt64(v int64)   { m.WriteBits(uint64(v), 64) }

func (m *Message) ReadUint8() (uint8, error) {
	v, err := m.ReadBits(8)
	return uint8(v), err
}

func (m *Message) ReadUint16() (uint16, error) {
	v, err := m.ReadBits(16)
	return uint16(v), err
}

func (m *Message) ReadUint32() (uint32, error) {
	v, err := m.ReadBits(32)
	return uint32(v), err
}

func (m *Message) ReadUint64() (uint64, error) {
	return m.ReadBits(64)
}

func (m *Message) ReadInt32() (int32, error) {
	v, err := m.ReadBits(32)
	return int32(uint32(v)), err
}

func (m *Message) ReadInt64() (int64, error) {
	v, err := m.ReadBits(64)
	return int64(v), err
}

// WriteBytes writes a 32-bit length prefix followed by the raw bytes.
func (m *Message) WriteBytes(b []byte) {
	m.WriteUint32(uint32(len(b)))
	for _, c := range b {
		m.WriteBits(uint64(c), 8)
	}
}

func (m *Message) ReadBytes() ([]byte, error) {
	n, err := m.ReadUint32()
	if err != nil {
		return nil, err
	}
	if n > maxFieldBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrFieldTooLarge, n)
	}
	if m.Remaining() < int(n)*8 {
		return nil, fmt.Errorf("%w: need %d bytes, have %d bits", ErrShortMessage, n, m.Remaining())
	}
	out := make([]byte, n)
	for i := range out {
		v, _ := m.ReadBits(8)
		out[i] = byte(v)
	}
	return out, nil
}

func (m *Message) WriteString(s string) { m.WriteBytes([]byte(s)) }

func (m *Message) ReadString() (string, error) {
	b, err := m.ReadBytes()
	return string(b), err
}
