package stpp

import (
	"errors"

	metrics "github.com/armon/go-metrics"

	"github.com/mediatree/stpp/agent/stpp/wire"
	"github.com/mediatree/stpp/imageload"
)

// maxImageError bounds the error string carried by an IMAGE_FAIL frame.
const maxImageError = 255

// imageReq is one outstanding image load. The session back-pointer is
// nulled if the session dies first; the continuation then discards the
// result without touching the transport.
type imageReq struct {
	id     uint32
	url    string
	width  uint32
	height uint32
	flags  uint32
	cancel *imageload.Cancellable

	sess *Session

	im      *imageload.Image
	loadErr error
}

// cmdImageLoad parses IMAGE_LOAD and schedules the fetch on the worker
// pool. The request is linked head-of-list on the session.
func (s *Session) cmdImageLoad(r *wire.Reader) error {
	if r.Len() < 16 {
		return wire.ErrMalformedFrame
	}
	id, _ := r.U32()
	flags, _ := r.U32()
	width, _ := r.U32()
	height, _ := r.U32()

	req := &imageReq{
		id:     id,
		url:    r.RestString(),
		width:  width,
		height: height,
		flags:  flags,
		cancel: imageload.NewCancellable(),
		sess:   s,
	}
	s.imagereqs = append([]*imageReq{req}, s.imagereqs...)
	metrics.IncrCounter([]string{"stpp", "image", "load"}, 1)

	courier := s.courier
	if !s.workers.Run(func() {
		req.im, req.loadErr = s.loader.Load(req.url, imageload.Meta{
			ReqWidth:   int(req.width),
			ReqHeight:  int(req.height),
			WantThumb:  req.flags&1 != 0,
			NoDecoding: true,
		}, req.cancel)
		// Marshal the result back onto the session courier. A closed
		// courier means the connection is gone; the result is dropped.
		courier.Run(req.complete)
	}) {
		// Worker pool shutting down; fail the request inline.
		req.loadErr = errPoolClosed
		req.complete()
	}
	return nil
}

var errPoolClosed = errors.New("worker pool closed")

// complete runs on the courier once the load has finished either way. It
// emits IMAGE_REPLY or IMAGE_FAIL unless the request was cancelled, then
// unlinks the request. A dead session discards silently.
func (req *imageReq) complete() {
	s := req.sess
	if s == nil {
		return
	}
	if !req.cancel.Cancelled() {
		if req.im != nil {
			s.sendBinary(imageReplyFrame(req.id, req.im))
		} else {
			msg := "image load failed"
			if req.loadErr != nil {
				msg = req.loadErr.Error()
			}
			if len(msg) > maxImageError {
				msg = msg[:maxImageError]
			}
			w := wire.NewWriter()
			w.U8(wire.CmdImageFail)
			w.U32(req.id)
			w.Raw([]byte(msg))
			s.sendBinary(w.Bytes())
			metrics.IncrCounter([]string{"stpp", "image", "fail"}, 1)
		}
	}
	for i, n := range s.imagereqs {
		if n == req {
			s.imagereqs = append(s.imagereqs[:i], s.imagereqs[i+1:]...)
			break
		}
	}
	req.im = nil
	req.sess = nil
}

func imageReplyFrame(id uint32, im *imageload.Image) []byte {
	w := wire.NewWriter()
	w.U8(wire.CmdImageReply)
	w.U32(id)
	w.U16(uint16(im.Width))
	w.U16(uint16(im.Height))
	w.U16(im.Flags)
	w.U8(im.ColorPlanes)
	w.U8(im.CodedType)
	w.U8(im.Orientation)
	w.Raw(im.Coded)
	return w.Bytes()
}

// cmdImageCancel flips the cancellation token of every request with the
// given id. The request stays linked; the continuation unlinks it. An
// unknown id is a no-op.
func (s *Session) cmdImageCancel(id uint32) {
	for _, req := range s.imagereqs {
		if req.id == id {
			req.cancel.Cancel()
			metrics.IncrCounter([]string{"stpp", "image", "cancel"}, 1)
		}
	}
}
