package frame

import (
	"errors"
	"fmt"
	"io"
	"iter"
)

const readChunkSize = 32 * 1024

// Read pulls chunks from r and yields frames as soon as they are complete.
// At EOF the unterminated remainder is flushed as a final frame. A read error
// other than EOF is yielded once and ends the sequence. Stopping the range
// stops reading; closing r is the caller's job.
func Read(r io.Reader, c Codec) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		dec := c.NewDecoder()
		buf := make([]byte, readChunkSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				for _, f := range dec.Feed(buf[:n]) {
					if !yield(f, nil) {
						return
					}
				}
			}
			if errors.Is(err, io.EOF) {
				for _, f := range dec.Flush() {
					if !yield(f, nil) {
						return
					}
				}
				return
			}
			if err != nil {
				yield(Frame{}, fmt.Errorf("%s read: %w", c.name, err))
				return
			}
		}
	}
}
