package llm

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// CollectStream drains a stream channel and returns the concatenated content
// and thinking. It blocks until the channel is closed.
func CollectStream(ch <-chan StreamEvent) (content, thinking string, err error) {
	var c, th strings.Builder
	for ev := range ch {
		if ev.Err != nil {
			err = ev.Err
			continue
		}
		c.WriteString(ev.Content)
		th.WriteString(ev.Thinking)
	}
	return c.String(), th.String(), err
}

// maxLineSize bounds a single streamed line (1 MB).
const maxLineSize = 1 * 1024 * 1024

// LineReader splits a streamed response body into lines, holding partial
// lines until the rest arrives. In SSE mode only "data:" payloads are
// returned, comments and other fields are skipped, and the [DONE] sentinel
// ends the stream.
type LineReader struct {
	scanner *bufio.Scanner
	sse     bool
}

// NewLineReader reads newline-delimited records (e.g. NDJSON) from r.
func NewLineReader(r io.Reader) *LineReader {
	return newLineReader(r, false)
}

// NewSSEReader reads server-sent event data lines from r.
func NewSSEReader(r io.Reader) *LineReader {
	return newLineReader(r, true)
}

func newLineReader(r io.Reader, sse bool) *LineReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &LineReader{scanner: scanner, sse: sse}
}

// Next returns the next non-empty, trimmed line. It returns io.EOF at the end
// of the stream.
func (lr *LineReader) Next() (string, error) {
	for lr.scanner.Scan() {
		line := strings.TrimSpace(lr.scanner.Text())
		if line == "" {
			continue
		}
		if !lr.sse {
			return line, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return "", io.EOF
		}
		if data != "" {
			return data, nil
		}
	}
	if err := lr.scanner.Err(); err != nil {
		return "", fmt.Errorf("line reader: %w", err)
	}
	return "", io.EOF
}
