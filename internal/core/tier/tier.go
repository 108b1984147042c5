// Package tier maps XP earned in a run to a badge token id.
package tier

// Token ids by rarity.
const (
	Common    = 0
	Uncommon  = 1
	Rare      = 2
	Epic      = 3
	Legendary = 4
)

// ProofXPThreshold is the XP from which a claim must carry a proof.
const ProofXPThreshold = 75

var thresholds = [...]uint64{25, 50, 75, 100}

// TokenIDFor returns the badge token id for xp.
func TokenIDFor(xp uint64) int {
	for i, limit := range thresholds {
		if xp < limit {
			return i
		}
	}
	return Legendary
}

// RequiresProof reports whether a claim is valuable enough to need proof verification.
func RequiresProof(xp uint64, tokenID int) bool {
	return xp >= ProofXPThreshold || tokenID >= Epic
}

// Name returns a display name for a token id.
func Name(tokenID int) string {
	switch tokenID {
	case Common:
		return "common"
	case Uncommon:
		return "uncommon"
	case Rare:
		return "rare"
	case Epic:
		return "epic"
	case Legendary:
		return "legendary"
	}
	return "unknown"
}
