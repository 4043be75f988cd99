// Package utils provides helpers shared by the diskmirror daemon and its backends.
package utils

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"time"
)

// LogInterceptor implements io.Writer and prefixes every complete line written to it
// with a sequence number and a timestamp before passing it to the target.
// Incomplete lines are held back until their newline arrives or Close is called.
type LogInterceptor struct {
	mu      sync.Mutex
	target  io.Writer
	seq     uint64
	pending bytes.Buffer
	now     func() time.Time
}

// NewLogInterceptor creates a LogInterceptor writing to target.
func NewLogInterceptor(target io.Writer) *LogInterceptor {
	return &LogInterceptor{
		target: target,
		now:    time.Now,
	}
}

func (i *LogInterceptor) writeLine(line []byte) error {
	i.seq++
	var out bytes.Buffer
	out.WriteString(slog.Uint64("line", i.seq).String())
	out.WriteByte(' ')
	out.WriteString(slog.String("time", i.now().Format(time.RFC3339)).String())
	out.WriteByte(' ')
	out.Write(bytes.TrimRight(line, "\r"))
	out.WriteByte('\n')
	_, err := i.target.Write(out.Bytes())
	return err
}

// Write implements io.Writer. It reports len(p) on success so callers such as
// slog handlers do not treat the added prefix as a short write.
func (i *LogInterceptor) Write(p []byte) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.pending.Write(p)
	for {
		idx := bytes.IndexByte(i.pending.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := make([]byte, idx)
		copy(line, i.pending.Next(idx+1)[:idx])
		if err := i.writeLine(line); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Close flushes a trailing partial line, if any.
func (i *LogInterceptor) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.pending.Len() == 0 {
		return nil
	}
	line := append([]byte(nil), i.pending.Bytes()...)
	i.pending.Reset()
	return i.writeLine(line)
}
