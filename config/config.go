package config

import (
	"math/rand"
)

var Version = "unknown"

const (
	// DefaultSegmentDurationSec is the HLS target segment duration used when
	// none is configured.
	DefaultSegmentDurationSec = 6

	// DefaultQueueDepth bounds the number of waiting jobs; enqueues beyond it
	// are rejected with Busy.
	DefaultQueueDepth = 64
)

var hexLetters = []rune("0123456789abcdef")

// RandomTrailer generates a random string of hex characters, used for
// request-scoped identifiers.
func RandomTrailer(length int) string {
	x := make([]rune, length)
	for i := 0; i < length; i++ {
		x[i] = hexLetters[rand.Intn(len(hexLetters))]
	}
	return string(x)
}
