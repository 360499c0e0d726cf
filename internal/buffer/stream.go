package buffer

import "context"

// Writer adapts a Buffer to io.Writer, for plugging directly into code that
// streams into the ring (e.g. an FFmpeg stdout reader).
type Writer struct {
	buffer *Buffer
}

// NewWriter wraps buffer as an io.Writer.
func NewWriter(buffer *Buffer) *Writer {
	return &Writer{buffer: buffer}
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	if err := w.buffer.WriteChunk(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Reader adapts a Buffer and an attached Client to io.Reader, delivering
// the ring's chunk stream for that client in order. Each wait returns every
// chunk written since the client's last read, concatenated; chunks written
// before the client attached are not delivered.
type Reader struct {
	buffer  *Buffer
	client  *Client
	pending []byte
}

// NewReader creates a Reader for buffer and client.
func NewReader(buffer *Buffer, client *Client) *Reader {
	return &Reader{buffer: buffer, client: client}
}

// Read implements io.Reader using a background context.
func (r *Reader) Read(p []byte) (int, error) {
	return r.ReadContext(context.Background(), p)
}

// ReadContext reads with context support.
func (r *Reader) ReadContext(ctx context.Context, p []byte) (int, error) {
	if len(r.pending) > 0 {
		n := copy(p, r.pending)
		r.pending = r.pending[n:]
		return n, nil
	}

	chunks, err := r.buffer.ReadWithWait(ctx, r.client)
	if err != nil {
		return 0, err
	}

	for _, chunk := range chunks {
		r.pending = append(r.pending, chunk.Data...)
	}

	if len(r.pending) == 0 {
		return 0, nil
	}

	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}
