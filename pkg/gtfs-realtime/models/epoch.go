package models

import "fmt"

// EpochKind tags which representation an EpochValue carries
type EpochKind int

const (
	EpochAbsent EpochKind = iota
	// EpochPlain is a signed 64-bit seconds value (stop time events)
	EpochPlain
	// EpochWide is an unsigned 64-bit seconds value (feed header timestamp)
	EpochWide
	// EpochSplit is a 64-bit value delivered as low/high 32-bit words
	EpochSplit
)

func (k EpochKind) String() string {
	switch k {
	case EpochAbsent:
		return "absent"
	case EpochPlain:
		return "plain"
	case EpochWide:
		return "wide"
	case EpochSplit:
		return "split"
	default:
		return fmt.Sprintf("EpochKind(%d)", int(k))
	}
}

// EpochValue is a feed timestamp in one of the encodings a decoder may hand
// back. Only the field matching Kind is meaningful.
type EpochValue struct {
	Kind  EpochKind
	Plain int64
	Wide  uint64
	Low   uint32
	High  uint32
}

func PlainEpoch(sec int64) EpochValue {
	return EpochValue{Kind: EpochPlain, Plain: sec}
}

func WideEpoch(sec uint64) EpochValue {
	return EpochValue{Kind: EpochWide, Wide: sec}
}

func SplitEpoch(low, high uint32) EpochValue {
	return EpochValue{Kind: EpochSplit, Low: low, High: high}
}

// IsPresent reports whether the value carries any timestamp at all
func (v EpochValue) IsPresent() bool {
	return v.Kind != EpochAbsent
}

// ToEpochSeconds normalizes any representation into signed epoch seconds.
// The second return is false for absent values and for wide values that do
// not fit into an int64.
func ToEpochSeconds(v EpochValue) (int64, bool) {
	switch v.Kind {
	case EpochPlain:
		return v.Plain, true
	case EpochWide:
		if v.Wide > 1<<63-1 {
			return 0, false
		}
		return int64(v.Wide), true
	case EpochSplit:
		return int64(uint64(v.High)<<32 | uint64(v.Low)), true
	default:
		return 0, false
	}
}
