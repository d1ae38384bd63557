package frame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWidenMiddleBitsRecoversNearbyStamp(t *testing.T) {
	now := time.Now()
	full := NTPStamp(now)
	mid := MiddleBits(full)

	got := WidenMiddleBits(mid, now)
	assert.Equal(t, mid, MiddleBits(got))
	assert.WithinDuration(t, now, NTPToTime(got), time.Millisecond)
}

func TestWidenMiddleBitsHandlesWraparoundNearBoundary(t *testing.T) {
	// near's NTP seconds value sits at 65533 mod 65536; six seconds later
	// (still a tiny, realistic network delay) the middle-bits word wraps to
	// 3, the exact edge the +/-0x10000 candidate search exists to resolve.
	near := time.Unix(33149, 0)
	sample := time.Unix(33155, 0)
	mid := MiddleBits(NTPStamp(sample))

	got := WidenMiddleBits(mid, near)
	assert.Equal(t, mid, MiddleBits(got))
	assert.WithinDuration(t, sample, NTPToTime(got), time.Millisecond)
}
