package stpp

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mediatree/stpp/agent/stpp/wire"
	"github.com/mediatree/stpp/imageload"
)

func imageLoadFrame(id, flags, w, hgt uint32, url string) []byte {
	wr := wire.NewWriter()
	wr.U8(wire.CmdImageLoad)
	wr.U32(id)
	wr.U32(flags)
	wr.U32(w)
	wr.U32(hgt)
	wr.Raw([]byte(url))
	return wr.Bytes()
}

func imageCancelFrame(id uint32) []byte {
	w := wire.NewWriter()
	w.U8(wire.CmdImageCancel)
	w.U32(id)
	return w.Bytes()
}

// drain waits until the worker pool has handed the continuation to the
// courier and the courier has run it.
func (h *harness) drainImage() {
	h.t.Helper()
	h.workers.Close()
	h.flush()
}

func TestImageLoadReply(t *testing.T) {
	h := newHarness(t)
	h.loader.im = &imageload.Image{
		Width:       64,
		Height:      48,
		Flags:       0x0002,
		ColorPlanes: 3,
		Orientation: 1,
		CodedType:   imageload.CodedJPEG,
		Coded:       []byte{0xff, 0xd8, 0xff, 0x00},
	}
	h.hello(t)
	require.NoError(t, h.binary(t, imageLoadFrame(42, 1, 64, 48, "http://x/y")))
	h.drainImage()

	require.Equal(t, "http://x/y", h.loader.lastURL)

	frames := h.sink.binaryFrames()
	reply := frames[len(frames)-1]
	require.Equal(t, byte(wire.CmdImageReply), reply[0])
	require.Equal(t, uint32(42), le32(reply[1:5]))
	require.Equal(t, uint16(64), binary.LittleEndian.Uint16(reply[5:7]))
	require.Equal(t, uint16(48), binary.LittleEndian.Uint16(reply[7:9]))
	require.Equal(t, uint16(2), binary.LittleEndian.Uint16(reply[9:11]))
	require.Equal(t, byte(3), reply[11])
	require.Equal(t, byte(imageload.CodedJPEG), reply[12])
	require.Equal(t, byte(1), reply[13])
	require.Equal(t, []byte{0xff, 0xd8, 0xff, 0x00}, reply[14:])

	h.on(func() { require.Empty(t, h.sess.imagereqs) })
}

func TestImageLoadFail(t *testing.T) {
	h := newHarness(t)
	h.loader.err = errPoolClosed
	h.hello(t)
	require.NoError(t, h.binary(t, imageLoadFrame(9, 0, 1, 1, "http://x/missing")))
	h.drainImage()

	frames := h.sink.binaryFrames()
	fail := frames[len(frames)-1]
	require.Equal(t, byte(wire.CmdImageFail), fail[0])
	require.Equal(t, uint32(9), le32(fail[1:5]))
	require.Equal(t, "worker pool closed", string(fail[5:]))
}

func TestImageCancelRace(t *testing.T) {
	h := newHarness(t)
	h.loader.block = make(chan struct{})
	h.loader.im = &imageload.Image{CodedType: imageload.CodedPNG, Coded: []byte{1}}

	h.hello(t)
	require.NoError(t, h.binary(t, imageLoadFrame(42, 1, 64, 64, "http://x/y")))
	require.NoError(t, h.binary(t, imageCancelFrame(42)))

	// The loader now completes naturally; the cancelled request must not
	// produce a reply and must be reaped.
	close(h.loader.block)
	h.drainImage()

	for _, f := range h.sink.binaryFrames() {
		require.NotEqual(t, byte(wire.CmdImageReply), f[0])
		require.NotEqual(t, byte(wire.CmdImageFail), f[0])
	}
	h.on(func() { require.Empty(t, h.sess.imagereqs) })
}

func TestImageCancelUnknownID(t *testing.T) {
	h := newHarness(t)
	h.hello(t)
	require.NoError(t, h.binary(t, imageCancelFrame(404)))
}

func TestTeardownWithInflightImage(t *testing.T) {
	h := newHarness(t)
	h.loader.block = make(chan struct{})
	h.loader.im = &imageload.Image{CodedType: imageload.CodedPNG, Coded: []byte{1}}

	h.hello(t)
	require.NoError(t, h.binary(t, imageLoadFrame(9, 0, 8, 8, "http://x/y")))

	// Connection closes while the loader still runs.
	h.on(func() { h.sess.Close() })

	close(h.loader.block)
	h.drainImage()

	// The continuation saw the dead session and discarded the image.
	frames := h.sink.binaryFrames()
	for _, f := range frames {
		require.NotEqual(t, byte(wire.CmdImageReply), f[0])
	}
}

func TestImageLoadTruncated(t *testing.T) {
	h := newHarness(t)
	h.hello(t)
	w := wire.NewWriter()
	w.U8(wire.CmdImageLoad)
	w.U32(1)
	w.U32(2)
	err := h.binary(t, w.Bytes())
	require.ErrorIs(t, err, wire.ErrMalformedFrame)
}
