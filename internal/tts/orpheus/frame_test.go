package orpheus

import (
	"fmt"
	"testing"
)

func TestFrameBufferWindowCount(t *testing.T) {
	for total := 0; total <= 120; total++ {
		var b FrameBuffer
		windows := 0
		for i := 1; i <= total; i++ {
			if _, ok := b.Push(i); ok {
				windows++
			}
		}
		want := 0
		if total > FrameSize-1 {
			want = (total - 21) / FrameStride
		}
		if windows != want {
			t.Fatalf("%d ids: got %d windows, want %d", total, windows, want)
		}
	}
}

func TestFrameBufferWindowsOverlap(t *testing.T) {
	var b FrameBuffer
	var windows [][]int
	for i := 1; i <= 35; i++ {
		if w, ok := b.Push(i); ok {
			windows = append(windows, w)
		}
	}
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(windows))
	}
	if windows[0][0] != 1 || windows[0][27] != 28 {
		t.Fatalf("unexpected first window %v", windows[0])
	}
	for i := 0; i < 21; i++ {
		if windows[1][i] != windows[0][i+7] {
			t.Fatalf("windows do not overlap by 21: %v / %v", windows[0], windows[1])
		}
	}
}

func TestFrameBufferIgnoresNonPositive(t *testing.T) {
	var b FrameBuffer
	b.Push(0)
	b.Push(-5)
	if b.Count() != 0 {
		t.Fatalf("expected count 0, got %d", b.Count())
	}
	b.Push(3)
	if b.Count() != 1 {
		t.Fatalf("expected count 1, got %d", b.Count())
	}
}

func TestFrameBufferReturnsCopy(t *testing.T) {
	var b FrameBuffer
	var first []int
	for i := 1; i <= 28; i++ {
		if w, ok := b.Push(i); ok {
			first = w
		}
	}
	first[27] = -1
	for i := 29; i <= 35; i++ {
		if w, ok := b.Push(i); ok {
			if w[20] != 28 {
				t.Fatalf("buffer was mutated through returned window: %v", w)
			}
		}
	}
}

func TestFrameBufferPushTokenUsesAcceptedPosition(t *testing.T) {
	var b FrameBuffer
	// an invalid token must not advance the codebook position
	b.PushToken("noise")
	b.PushToken(fmt.Sprintf("<custom_token_%d>", 10))
	b.PushToken(tokenFor(5, 0))
	b.PushToken(tokenFor(6, 1))
	if b.Count() != 2 {
		t.Fatalf("expected 2 accepted ids, got %d", b.Count())
	}
}
