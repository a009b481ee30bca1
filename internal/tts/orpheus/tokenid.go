package orpheus

import (
	"strconv"
	"strings"
)

const (
	// CustomTokenPrefix marks an audio-codec token in the model output.
	CustomTokenPrefix = "<custom_token_"
	// TokenOffset is subtracted from every raw token numeral.
	TokenOffset = 10
	// CodebookSize is the ID range of one codec codebook.
	CodebookSize = 4096
)

// DecodeTokenID extracts the audio-codec ID carried by token. Only the last
// marker in the fragment counts. position is the number of IDs accepted so
// far in the session; it selects which of the seven interleaved codebooks the
// token belongs to. The result may be zero or negative, which callers must
// treat as invalid.
func DecodeTokenID(token string, position int) (int, bool) {
	token = strings.TrimSpace(token)
	start := strings.LastIndex(token, CustomTokenPrefix)
	if start == -1 {
		return 0, false
	}
	last := token[start:]
	if !strings.HasSuffix(last, ">") {
		return 0, false
	}
	numeral := last[len(CustomTokenPrefix) : len(last)-1]
	n, err := strconv.Atoi(numeral)
	if err != nil {
		return 0, false
	}
	return n - TokenOffset - (position%FrameStride)*CodebookSize, true
}
