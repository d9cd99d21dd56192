package capture

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"

	"auraly/internal/ports"
)

// PCMBuffer accumulates audio read from a capture session until EOF.
type PCMBuffer struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	err  error
	done chan struct{}
}

// Drain copies audio into a new PCMBuffer in the background using reads of
// chunkSize bytes.
func Drain(audio ports.AudioSession, chunkSize int) *PCMBuffer {
	if chunkSize < 256 {
		chunkSize = 4096
	}
	b := &PCMBuffer{done: make(chan struct{})}
	go b.pump(audio, chunkSize)
	return b
}

func (b *PCMBuffer) pump(audio ports.AudioSession, chunkSize int) {
	defer close(b.done)

	chunk := make([]byte, chunkSize)
	for {
		n, err := audio.Read(chunk)
		if n > 0 {
			b.mu.Lock()
			b.buf.Write(chunk[:n])
			b.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				b.mu.Lock()
				b.err = err
				b.mu.Unlock()
			}
			return
		}
	}
}

// Done is closed once the capture stream has ended.
func (b *PCMBuffer) Done() <-chan struct{} {
	return b.done
}

// Result returns a copy of the captured PCM and the first read error.
func (b *PCMBuffer) Result() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes()), b.err
}
