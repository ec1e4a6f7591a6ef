package imageload

import (
	"bytes"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestLoadPNG(t *testing.T) {
	body := pngBytes(t, 64, 48)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	l, err := NewHTTPLoader(hclog.NewNullLogger(), 8)
	require.NoError(t, err)

	im, err := l.Load(srv.URL+"/a.png", Meta{ReqWidth: 64, ReqHeight: 48, NoDecoding: true}, NewCancellable())
	require.NoError(t, err)
	require.Equal(t, 64, im.Width)
	require.Equal(t, 48, im.Height)
	require.Equal(t, byte(CodedPNG), im.CodedType)
	require.Equal(t, body, im.Coded)
}

func TestLoadCached(t *testing.T) {
	var hits int32
	body := pngBytes(t, 8, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write(body)
	}))
	defer srv.Close()

	l, err := NewHTTPLoader(hclog.NewNullLogger(), 8)
	require.NoError(t, err)

	meta := Meta{ReqWidth: 8, ReqHeight: 8}
	_, err = l.Load(srv.URL, meta, nil)
	require.NoError(t, err)
	_, err = l.Load(srv.URL, meta, nil)
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))

	// Different constraints miss the cache.
	_, err = l.Load(srv.URL, Meta{ReqWidth: 16, ReqHeight: 16}, nil)
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestLoadCancelledBeforeStart(t *testing.T) {
	l, err := NewHTTPLoader(hclog.NewNullLogger(), 8)
	require.NoError(t, err)

	c := NewCancellable()
	c.Cancel()
	_, err = l.Load("http://127.0.0.1:1/x", Meta{}, c)
	require.True(t, ErrCancelled(err))
}

func TestLoadHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	l, err := NewHTTPLoader(hclog.NewNullLogger(), 8)
	require.NoError(t, err)
	_, err = l.Load(srv.URL, Meta{}, nil)
	require.Error(t, err)
}

func TestLoadGarbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not an image"))
	}))
	defer srv.Close()

	l, err := NewHTTPLoader(hclog.NewNullLogger(), 8)
	require.NoError(t, err)
	_, err = l.Load(srv.URL, Meta{}, nil)
	require.Error(t, err)
}

func TestCodedTypeSniff(t *testing.T) {
	require.Equal(t, byte(CodedJPEG), codedType([]byte{0xff, 0xd8, 0xff, 0xe0}, ""))
	require.Equal(t, byte(CodedGIF), codedType([]byte("GIF89a...."), ""))
	require.Equal(t, byte(CodedSVG), codedType([]byte(`<svg xmlns="x">`), ""))
	require.Equal(t, byte(CodedSVG), codedType([]byte("<?xml?>"), "image/svg+xml"))
	require.Equal(t, byte(CodedUnknown), codedType([]byte("????"), ""))
}

func TestCancellable(t *testing.T) {
	c := NewCancellable()
	require.False(t, c.Cancelled())
	c.Cancel()
	c.Cancel()
	require.True(t, c.Cancelled())
	<-c.Done()
}
