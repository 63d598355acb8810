// Package source provides line streams for the log writer: a system log
// command run as a subprocess, or any io.Reader such as stdin.
package source

import (
	"context"
	"io"
	"strings"
	"sync"
)

// Reader adapts an already open stream. Closing the opened stream unblocks
// a pending read even if the underlying reader cannot be interrupted.
type Reader struct {
	R io.Reader
}

// Open starts copying from R.
func (s Reader) Open(ctx context.Context) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	go func() {
		_, err := io.Copy(pw, s.R)
		pw.CloseWithError(err)
	}()
	return pr, nil
}

// LineSource yields fixed lines and then stays open until closed, like a
// quiet system log.
type LineSource struct {
	lines []string
}

// Lines returns a LineSource for the given lines.
func Lines(lines ...string) LineSource {
	return LineSource{lines: lines}
}

// Open returns a fresh stream over the lines.
func (s LineSource) Open(ctx context.Context) (io.ReadCloser, error) {
	var text string
	if len(s.lines) > 0 {
		text = strings.Join(s.lines, "\n") + "\n"
	}
	return &heldReader{r: strings.NewReader(text), closed: make(chan struct{})}, nil
}

// heldReader returns its content, then blocks until Close before reporting EOF.
type heldReader struct {
	r      *strings.Reader
	closed chan struct{}
	once   sync.Once
}

func (h *heldReader) Read(p []byte) (int, error) {
	if h.r.Len() > 0 {
		return h.r.Read(p)
	}
	<-h.closed
	return 0, io.EOF
}

func (h *heldReader) Close() error {
	h.once.Do(func() { close(h.closed) })
	return nil
}
