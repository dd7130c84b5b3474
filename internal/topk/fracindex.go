package topk

// alphabet is the ordered digit set fractional indices are built from. Go
// string comparison is byte-by-byte, so the order here is the sort order of
// the generated keys; it has to stay monotonic and printable.
const alphabet = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

const base = len(alphabet)

// RebalanceThreshold is the key length past which Between has had to dig
// deep enough that a caller maintaining a long-lived window should
// renumber the run instead of continuing to deepen it.
const RebalanceThreshold = 16

var digitValue = buildDigitValue()

func buildDigitValue() [256]int8 {
	var m [256]int8
	for i := range m {
		m[i] = -1
	}
	for i := 0; i < base; i++ {
		m[alphabet[i]] = int8(i)
	}
	return m
}

// Between returns a string that sorts strictly between lo and hi. An empty
// lo means "no lower bound" (treat as the smallest possible key); an empty
// hi means "no upper bound". Between("", "") returns the alphabet's
// midpoint digit, the conventional first key of an empty window.
//
// This has no library home anywhere in the example pack — fractional
// indexing is a narrow, purpose-built primitive, not a general concern any
// third-party dependency here covers — so it is built directly against the
// window-maintenance behaviour spec'd for ordered live queries.
func Between(lo, hi string) string {
	if lo != "" && hi != "" && lo >= hi {
		panic("topk: Between requires lo < hi")
	}
	var out []byte
	hiUnbounded := hi == ""
	for i := 0; ; i++ {
		loDigit := 0
		if i < len(lo) {
			loDigit = int(digitValue[lo[i]])
		}
		var hiDigit int
		switch {
		case hiUnbounded:
			hiDigit = base
		case i < len(hi):
			hiDigit = int(digitValue[hi[i]])
		default:
			hiDigit = base
			hiUnbounded = true
		}

		if hiDigit-loDigit >= 2 {
			out = append(out, alphabet[loDigit+(hiDigit-loDigit)/2])
			return string(out)
		}
		out = append(out, alphabet[loDigit])
		if hiDigit-loDigit == 1 {
			hiUnbounded = true
		}
		if i > 2*RebalanceThreshold {
			// lo and hi share an absurdly long common prefix; break the tie
			// with one more digit rather than loop forever.
			out = append(out, alphabet[base/2])
			return string(out)
		}
	}
}

// NeedsRebalance reports whether key is long enough that the window holding
// it should be renumbered at the next convenient opportunity rather than
// have further keys wedged next to it.
func NeedsRebalance(key string) bool {
	return len(key) > RebalanceThreshold
}
