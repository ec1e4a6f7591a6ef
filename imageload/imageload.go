// Package imageload fetches coded (undecoded) image buffers for the STPP
// image pipeline. The endpoint hands every request a cancellation token;
// loads poll it so a client cancel aborts the transfer instead of
// completing it. Session teardown does not flip the token.
package imageload

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
)

// Coded buffer types reported in image replies.
const (
	CodedUnknown = 0
	CodedJPEG    = 1
	CodedPNG     = 2
	CodedGIF     = 3
	CodedSVG     = 4
)

// maxBodySize caps a single coded image transfer.
const maxBodySize = 32 << 20

// Cancellable is a one-shot cancellation token shared between the session
// and the worker running the load.
type Cancellable struct {
	once sync.Once
	done chan struct{}
}

func NewCancellable() *Cancellable {
	return &Cancellable{done: make(chan struct{})}
}

// Cancel flips the token. Idempotent.
func (c *Cancellable) Cancel() {
	c.once.Do(func() { close(c.done) })
}

func (c *Cancellable) Cancelled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done is closed when the token is cancelled.
func (c *Cancellable) Done() <-chan struct{} {
	return c.done
}

// Meta carries the request constraints from the IMAGE_LOAD frame. The STPP
// endpoint always loads with NoDecoding set; the client decodes.
type Meta struct {
	ReqWidth   int
	ReqHeight  int
	WantThumb  bool
	NoDecoding bool
}

// Image is a loaded coded image: its probed dimensions and one coded
// component.
type Image struct {
	Width       int
	Height      int
	Flags       uint16
	ColorPlanes byte
	Orientation byte
	CodedType   byte
	Coded       []byte
}

// Loader resolves a url to a coded image. Implementations must poll cancel
// and return early when it flips.
type Loader interface {
	Load(url string, meta Meta, cancel *Cancellable) (*Image, error)
}

// HTTPLoader fetches images over http(s) with a pooled client and keeps an
// LRU of coded buffers keyed by url and request constraints.
type HTTPLoader struct {
	logger hclog.Logger
	client *http.Client
	cache  *lru.Cache
}

func NewHTTPLoader(logger hclog.Logger, cacheSize int) (*HTTPLoader, error) {
	if cacheSize < 1 {
		cacheSize = 64
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &HTTPLoader{
		logger: logger,
		client: cleanhttp.DefaultPooledClient(),
		cache:  cache,
	}, nil
}

var errCancelled = fmt.Errorf("image load cancelled")

// ErrCancelled reports whether err is the cancellation result.
func ErrCancelled(err error) bool {
	return err == errCancelled
}

func cacheKey(url string, meta Meta) string {
	thumb := 0
	if meta.WantThumb {
		thumb = 1
	}
	return fmt.Sprintf("%s|%dx%d|t%d", url, meta.ReqWidth, meta.ReqHeight, thumb)
}

func (l *HTTPLoader) Load(url string, meta Meta, cancel *Cancellable) (*Image, error) {
	if cancel != nil && cancel.Cancelled() {
		return nil, errCancelled
	}

	key := cacheKey(url, meta)
	if v, ok := l.cache.Get(key); ok {
		return v.(*Image), nil
	}

	ctx, abort := context.WithCancel(context.Background())
	defer abort()
	if cancel != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-cancel.Done():
				abort()
			case <-stop:
			}
		}()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("bad image url: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		if cancel != nil && cancel.Cancelled() {
			return nil, errCancelled
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		if cancel != nil && cancel.Cancelled() {
			return nil, errCancelled
		}
		return nil, err
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("image exceeds %d bytes", maxBodySize)
	}
	if cancel != nil && cancel.Cancelled() {
		return nil, errCancelled
	}

	im, err := probe(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	l.cache.Add(key, im)
	l.logger.Debug("image loaded", "url", url, "bytes", len(body),
		"width", im.Width, "height", im.Height)
	return im, nil
}

// probe classifies the coded buffer and extracts dimensions without a full
// decode. SVG is passed through unprobed; the client rasterises it.
func probe(body []byte, contentType string) (*Image, error) {
	im := &Image{Coded: body, CodedType: codedType(body, contentType)}
	if im.CodedType == CodedSVG {
		return im, nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("unrecognized image data: %w", err)
	}
	im.Width = cfg.Width
	im.Height = cfg.Height
	im.ColorPlanes = 3
	if cfg.ColorModel == color.GrayModel || cfg.ColorModel == color.Gray16Model {
		im.ColorPlanes = 1
	}
	return im, nil
}

func codedType(body []byte, contentType string) byte {
	switch {
	case len(body) >= 3 && body[0] == 0xff && body[1] == 0xd8 && body[2] == 0xff:
		return CodedJPEG
	case len(body) >= 8 && bytes.Equal(body[:8], []byte("\x89PNG\r\n\x1a\n")):
		return CodedPNG
	case len(body) >= 6 && (bytes.Equal(body[:6], []byte("GIF87a")) || bytes.Equal(body[:6], []byte("GIF89a"))):
		return CodedGIF
	case strings.Contains(contentType, "svg") || bytes.Contains(body[:min(len(body), 256)], []byte("<svg")):
		return CodedSVG
	}
	return CodedUnknown
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
