package handler

import (
	"io"
	"net/http"
	"sync"
	"unicode/utf8"

	"github.com/HandyWote/gemini-proxy/internal/model"
)

// previewWriter keeps the first limit characters of whatever passes through
// it. It never fails a write, so it can sit behind io.TeeReader or
// io.MultiWriter without affecting the stream.
//
// The request-side preview is written by the transport's goroutine while the
// handler may already be reading it, hence the mutex.
type previewWriter struct {
	mu    sync.Mutex
	class model.ContentClass
	limit int
	buf   []byte
	total int64
}

// newPreviewWriter returns nil for content classes that are not previewed.
func newPreviewWriter(class model.ContentClass) *previewWriter {
	limit := class.PreviewLimit()
	if limit == 0 {
		return nil
	}
	return &previewWriter{class: class, limit: limit}
}

func (p *previewWriter) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total += int64(len(b))
	if room := p.limit*utf8.UTFMax - len(p.buf); room > 0 {
		p.buf = append(p.buf, b[:min(room, len(b))]...)
	}
	return len(b), nil
}

// Preview returns at most limit characters and whether anything was cut.
func (p *previewWriter) Preview() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := string(p.buf)
	n := 0
	for i := range s {
		if n == p.limit {
			return s[:i], true
		}
		n++
	}
	return s, p.total > int64(len(p.buf))
}

// Total is the number of bytes seen.
func (p *previewWriter) Total() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

type teeReadCloser struct {
	io.Reader
	io.Closer
}

// teeBody mirrors reads from body into w. The underlying body is still closed
// by the server.
func teeBody(body io.ReadCloser, w io.Writer) io.ReadCloser {
	return teeReadCloser{Reader: io.TeeReader(body, w), Closer: body}
}

// flushWriter flushes after every write so server-sent events reach the
// caller as they arrive.
type flushWriter struct {
	w  io.Writer
	rc *http.ResponseController
}

func newFlushWriter(w io.Writer, rw http.ResponseWriter) *flushWriter {
	return &flushWriter{w: w, rc: http.NewResponseController(rw)}
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if n > 0 {
		_ = f.rc.Flush()
	}
	return n, err
}
