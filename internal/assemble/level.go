package assemble

import (
	"fmt"
	"strings"

	"github.com/lazypower/hippocampus/internal/store"
	"github.com/lazypower/hippocampus/internal/thread"
)

// Level is the requested context verbosity.
type Level int

const (
	L1 Level = iota + 1
	L2
	L3
)

// ParseLevel accepts "1", "L1", "l1" and so on.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "1", "L1":
		return L1, nil
	case "2", "L2":
		return L2, nil
	case "3", "L3":
		return L3, nil
	}
	return 0, fmt.Errorf("unknown level %q (want L1, L2 or L3)", s)
}

func (l Level) String() string {
	if l < L1 || l > L3 {
		return "L?"
	}
	return fmt.Sprintf("L%d", int(l))
}

// tokensPerFact is the per-level budget magnitude used when the caller
// passes no budget.
func (l Level) tokensPerFact() int {
	switch l {
	case L1:
		return 10
	case L3:
		return 200
	default:
		return 50
	}
}

// Verbosity picks the text tier for a fact at this level. L3 follows the
// fact's weight; L2 caps at standard; L1 is always brief.
func (l Level) Verbosity(weight float64) store.Verbosity {
	byWeight := store.Brief
	switch {
	case weight >= 0.7:
		byWeight = store.Full
	case weight >= 0.4:
		byWeight = store.Standard
	}
	switch l {
	case L1:
		return store.Brief
	case L2:
		if byWeight > store.Standard {
			return store.Standard
		}
	}
	return byWeight
}

// EstimateTokens approximates token count as ceil(chars/4).
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// lineCost charges a line plus its trailing newline, so the sum over lines
// bounds EstimateTokens of the joined text.
func lineCost(line string) int {
	return EstimateTokens(line + "\n")
}

// TierFor maps a thread score to a gating tier.
func TierFor(score, profileGate, factGate float64) thread.Tier {
	switch {
	case score >= factGate:
		return thread.TierFacts
	case score >= profileGate:
		return thread.TierProfiles
	default:
		return thread.TierMetadata
	}
}
