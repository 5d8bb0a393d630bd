package capture

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/leonardotrapani/speechrelay/internal/pcm"
)

// wavTee keeps a copy of the audio sent to the relay.
type wavTee struct {
	f   *os.File
	enc *wav.Encoder
	buf *audio.IntBuffer
}

func openWAV(path string, rate int) (*wavTee, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav: %w", err)
	}
	return &wavTee{
		f:   f,
		enc: wav.NewEncoder(f, rate, 16, 1, 1),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
			SourceBitDepth: 16,
		},
	}, nil
}

func (w *wavTee) write(frame []byte) error {
	samples := pcm.Samples(frame)
	w.buf.Data = w.buf.Data[:0]
	for _, s := range samples {
		w.buf.Data = append(w.buf.Data, int(s))
	}
	return w.enc.Write(w.buf)
}

// close finalizes the header with the real data size
func (w *wavTee) close() error {
	err := w.enc.Close()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}
