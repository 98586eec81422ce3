package bridge_test

import (
	"errors"
	"testing"

	"github.com/usnistgov/tsbridge/bridge"
	"golang.org/x/sys/unix"
)

func TestCursor(t *testing.T) {
	assert, _ := makeAR(t)

	c := bridge.DecodeCursor(3<<11 | 14)
	assert.Equal(bridge.Cursor{Buf: 3, Off: 14 * 128}, c)
	assert.Equal(uint32(3<<11|14), c.Encode())
	assert.Equal("3+1792", c.String())

	// offsets are truncated to 128-octet units
	assert.Equal(uint32(14), bridge.Cursor{Buf: 0, Off: 1880}.Encode())
	assert.Equal(uint32(31<<11|0x7FF), bridge.DecodeCursor(0xFFFFFFFF).Encode())
}

func TestSizeWord(t *testing.T) {
	assert, _ := makeAR(t)

	w := bridge.SizeWord(1, 8, 21*bridge.BufferUnit)
	assert.Equal(uint32(1<<16|8<<11|21*47), w)
	div, num, size := bridge.DecodeSizeWord(w)
	assert.Equal(uint32(1), div)
	assert.Equal(uint32(8), num)
	assert.Equal(uint32(21*bridge.BufferUnit), size)
}

func TestConfig(t *testing.T) {
	assert, _ := makeAR(t)

	var cfg bridge.Config
	cfg.ApplyDefaults()
	assert.NoError(cfg.Validate())
	assert.Equal(8, cfg.BufferCount)
	assert.Equal(uint32(21*128*47), cfg.BufferOctets())

	for _, bad := range []bridge.Config{
		{BufferCount: 7, BufferSize: 1},
		{BufferCount: 33, BufferSize: 1},
		{BufferCount: 8, BufferSize: 44},
	} {
		assert.ErrorIs(bad.Validate(), bridge.ErrInvalid, "%+v", bad)
	}
}

func TestErrno(t *testing.T) {
	assert, _ := makeAR(t)

	assert.Equal(0, bridge.Errno(nil))
	assert.Equal(-int(unix.ENOMEM), bridge.Errno(bridge.ErrNoMemory))
	assert.Equal(-int(unix.EBUSY), bridge.Errno(bridge.ErrBusy))
	assert.Equal(-int(unix.EINVAL), bridge.Errno(bridge.ErrInvalid))
	assert.Equal(-int(unix.ELOOP), bridge.Errno(bridge.ErrLoop))
	assert.Equal(-int(unix.EAGAIN), bridge.Errno(bridge.ErrWouldBlock))
	assert.Equal(-int(unix.EIO), bridge.Errno(errors.New("other")))
}

func TestParseRedirect(t *testing.T) {
	assert, _ := makeAR(t)

	i, p, e := bridge.ParseRedirect("14 13\n")
	assert.NoError(e)
	assert.Equal(uint32(0x14), i)
	assert.Equal(uint32(0x13), p)

	for _, bad := range []string{"", "14", "14 13 12", "xx 13", "14 zz"} {
		_, _, e = bridge.ParseRedirect(bad)
		assert.ErrorIs(e, bridge.ErrInvalid, bad)
	}
}
