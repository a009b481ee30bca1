package orpheus

const (
	// FrameSize is the number of IDs in one window handed to the codec.
	FrameSize = 28
	// FrameStride is the number of accepted IDs between two windows.
	FrameStride = 7
)

// FrameBuffer accumulates accepted audio-codec IDs for one session and cuts
// overlapping windows from its tail. The zero value is ready to use.
type FrameBuffer struct {
	ids   []int
	count int
}

// Count reports the number of accepted IDs.
func (b *FrameBuffer) Count() int { return b.count }

// Push accepts id if it is strictly positive. When the accept completes a
// stride past the first full frame, the last FrameSize IDs are returned.
func (b *FrameBuffer) Push(id int) ([]int, bool) {
	if id <= 0 {
		return nil, false
	}
	b.ids = append(b.ids, id)
	b.count++
	if b.count <= FrameSize-1 || b.count%FrameStride != 0 {
		return nil, false
	}
	window := make([]int, FrameSize)
	copy(window, b.ids[len(b.ids)-FrameSize:])
	return window, true
}

// PushToken decodes token at the current position and pushes the result.
func (b *FrameBuffer) PushToken(token string) ([]int, bool) {
	id, ok := DecodeTokenID(token, b.count)
	if !ok {
		return nil, false
	}
	return b.Push(id)
}
