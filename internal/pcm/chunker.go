package pcm

// Chunker cuts an arbitrary byte stream into fixed-size frames.
type Chunker struct {
	size int
	buf  []byte
}

func NewChunker(frameSize int) *Chunker {
	if frameSize%BytesPerSample != 0 {
		frameSize++
	}
	return &Chunker{size: frameSize, buf: make([]byte, 0, frameSize*2)}
}

// Write appends data and returns every complete frame now available.
// Returned frames do not alias internal storage.
func (c *Chunker) Write(data []byte) [][]byte {
	c.buf = append(c.buf, data...)

	var frames [][]byte
	for len(c.buf) >= c.size {
		frame := make([]byte, c.size)
		copy(frame, c.buf[:c.size])
		frames = append(frames, frame)
		c.buf = c.buf[c.size:]
	}

	// compact so the backing array does not grow forever
	if cap(c.buf) > c.size*4 {
		rest := make([]byte, len(c.buf), c.size*2)
		copy(rest, c.buf)
		c.buf = rest
	}
	return frames
}

// Flush returns the pending partial frame zero-padded to full size, or nil.
func (c *Chunker) Flush() []byte {
	if len(c.buf) == 0 {
		return nil
	}
	frame := make([]byte, c.size)
	copy(frame, c.buf)
	c.buf = c.buf[:0]
	return frame
}

// Size returns the frame size in bytes
func (c *Chunker) Size() int {
	return c.size
}
