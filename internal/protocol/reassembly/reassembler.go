package reassembly

import (
	"errors"

	"github.com/danmuck/instaxemu/internal/protocol/frame"
)

// DefaultCapacity bounds one accumulated frame.
const DefaultCapacity = 4096

var ErrBufferOverflow = errors.New("reassembly: buffer overflow")

// Reassembler rebuilds frames from transport chunks. It is not safe for
// concurrent use; callers serialize Feed per connection.
type Reassembler struct {
	magic    [2]byte
	buf      []byte
	capacity int
	expected int
}

// New returns a reassembler for frames travelling in dir.
func New(dir frame.Direction, capacity int) *Reassembler {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Reassembler{
		magic:    dir.Magic(),
		buf:      make([]byte, 0, capacity),
		capacity: capacity,
	}
}

// Feed appends chunk and returns a frame once total_length bytes have
// accumulated. A nil frame with a nil error means more bytes are needed.
//
// A chunk that begins with the direction magic restarts accumulation, even
// when an earlier frame is still incomplete. Bytes past total_length in the
// completing chunk are dropped.
func (r *Reassembler) Feed(chunk []byte) ([]byte, error) {
	if len(chunk) >= 4 && chunk[0] == r.magic[0] && chunk[1] == r.magic[1] {
		r.Reset()
		r.expected, _ = frame.PeekLength(chunk)
	}
	if len(r.buf)+len(chunk) > r.capacity {
		r.Reset()
		return nil, ErrBufferOverflow
	}
	r.buf = append(r.buf, chunk...)

	// A header split across short chunks is picked up once four bytes exist.
	if r.expected == 0 && len(r.buf) >= 4 && r.buf[0] == r.magic[0] && r.buf[1] == r.magic[1] {
		r.expected, _ = frame.PeekLength(r.buf)
	}
	if r.expected > 0 && len(r.buf) >= r.expected {
		out := make([]byte, r.expected)
		copy(out, r.buf[:r.expected])
		r.Reset()
		return out, nil
	}
	return nil, nil
}

func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
	r.expected = 0
}

// Buffered reports how many bytes are waiting for the rest of a frame.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// Expected is the total_length of the frame in progress, or zero.
func (r *Reassembler) Expected() int {
	return r.expected
}

func (r *Reassembler) Capacity() int {
	return r.capacity
}
