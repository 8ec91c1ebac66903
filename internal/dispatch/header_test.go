package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modnet/internal/protocol"
	"modnet/internal/transport"
)

func TestLayoutRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		layout Layout
		header Header
		bits   int
	}{
		{"regular global", DefaultLayout(), Header{Message: 300}, 2 + 1 + 16},
		{"regular scoped", DefaultLayout(), Header{Scoped: true, Module: 7, Message: 9}, 2 + 1 + 16 + 16},
		{"system", DefaultLayout(), Header{Tag: protocol.SystemValidationCheck}, 2},
		{"no scope flag", Layout{TagBits: 3}, Header{Message: 4}, 3 + 16},
		{"no tag", Layout{}, Header{Message: 4}, 16},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := transport.NewMessage(transport.Notify)
			require.NoError(t, tc.layout.Write(m, tc.header))
			assert.Equal(t, tc.bits, m.BitLen())

			h, err := tc.layout.Read(m)
			require.NoError(t, err)
			assert.Equal(t, tc.header, h)
			assert.Equal(t, 0, m.Remaining())
		})
	}
}

func TestLayoutRejects(t *testing.T) {
	m := transport.NewMessage(transport.Reliable)
	err := Layout{TagBits: 1}.Write(m, Header{Tag: protocol.SystemResponse})
	assert.ErrorIs(t, err, protocol.ErrInvalidValue)

	err = Layout{TagBits: 2}.Write(m, Header{Scoped: true, Module: 1})
	assert.ErrorIs(t, err, protocol.ErrInvalidValue)

	assert.Error(t, Layout{TagBits: 9}.Validate())
	assert.NoError(t, DefaultLayout().Validate())

	_, err = DefaultLayout().Read(transport.MessageFrom(transport.Reliable, []byte{0}))
	assert.ErrorIs(t, err, transport.ErrShortMessage)
}
