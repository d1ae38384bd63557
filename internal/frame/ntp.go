package frame

import "time"

// ntpEpochOffset is the number of seconds between the NTP epoch (1900-01-01)
// and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// NTPStamp converts a wall-clock time to 64-bit NTP short format (upper 32
// seconds, lower 32 fractional), per spec.md §3.
func NTPStamp(t time.Time) uint64 {
	secs := uint64(t.Unix()+ntpEpochOffset) & 0xFFFFFFFF
	frac := uint64(float64(t.Nanosecond()) / 1e9 * (1 << 32))
	return secs<<32 | (frac & 0xFFFFFFFF)
}

// NTPToTime converts a 64-bit NTP short-format stamp back to a wall-clock
// time, used only for release scheduling and reporting (spec.md §3: "never
// as an ordering key").
func NTPToTime(stamp uint64) time.Time {
	secs := int64(stamp>>32) - ntpEpochOffset
	frac := stamp & 0xFFFFFFFF
	nanos := int64(float64(frac) / (1 << 32) * 1e9)
	return time.Unix(secs, nanos)
}

// MiddleBits extracts the middle 32 bits (16 seconds + 16 fraction) of a
// 64-bit NTP stamp, the compact form RTCP-style LSR/DLSR fields carry
// (spec.md §6: "RR ... LSR, DLSR — RTCP-style").
func MiddleBits(stamp uint64) uint32 {
	return uint32(stamp >> 16)
}

// DurationFromMiddleBits converts a middle-32-bits NTP interval (as carried
// by DLSR) to a time.Duration.
func DurationFromMiddleBits(v uint32) time.Duration {
	return time.Duration(float64(v) / (1 << 16) * float64(time.Second))
}

// MiddleBitsFromDuration is DurationFromMiddleBits's inverse, used to build
// a fresh DLSR value at RR-send time.
func MiddleBitsFromDuration(d time.Duration) uint32 {
	return uint32(d.Seconds() * (1 << 16))
}

// WidenMiddleBits reconstructs a full 64-bit NTP stamp from the middle 32
// bits an RTP sub-header's ts:32 field carries (spec.md §6), given a
// nearby wall-clock time already known to the caller to supply the
// fractional low bits lost to truncation and resolve the middle word's
// roughly 18-hour wraparound — the same widen-near-a-reference technique
// seq.go's expandSequence uses for RTP's 16-bit sequence field.
func WidenMiddleBits(mid uint32, near time.Time) uint64 {
	nearStamp := NTPStamp(near)
	lowFrac := nearStamp & 0xFFFF
	secsHigh := (nearStamp >> 32) &^ 0xFFFF

	best := buildFromMiddle(secsHigh, mid, lowFrac)
	bestDist := absDuration(near.Sub(NTPToTime(best)))
	for _, h := range [2]uint64{secsHigh - 0x10000, secsHigh + 0x10000} {
		c := buildFromMiddle(h, mid, lowFrac)
		if d := absDuration(near.Sub(NTPToTime(c))); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func buildFromMiddle(secsHigh uint64, mid uint32, lowFrac uint64) uint64 {
	secs := secsHigh | uint64(mid>>16)
	fracHigh := uint64(mid&0xFFFF) << 16
	return secs<<32 | fracHigh | lowFrac
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
