package worker

import (
	"bytes"
	"io"

	"github.com/acarl005/stripansi"
)

// ansiStripWriter removes terminal escape sequences line by line. Escape
// sequences never span a newline in runner output.
type ansiStripWriter struct {
	w   io.Writer
	buf bytes.Buffer
}

func newANSIStripWriter(w io.Writer) *ansiStripWriter {
	return &ansiStripWriter{w: w}
}

func (a *ansiStripWriter) Write(p []byte) (int, error) {
	a.buf.Write(p)
	for {
		i := bytes.IndexByte(a.buf.Bytes(), '\n')
		if i < 0 {
			return len(p), nil
		}
		line := a.buf.Next(i + 1)
		if _, err := io.WriteString(a.w, stripansi.Strip(string(line))); err != nil {
			return len(p), err
		}
	}
}

// Flush writes any trailing partial line.
func (a *ansiStripWriter) Flush() error {
	if a.buf.Len() == 0 {
		return nil
	}
	_, err := io.WriteString(a.w, stripansi.Strip(a.buf.String()))
	a.buf.Reset()
	return err
}
