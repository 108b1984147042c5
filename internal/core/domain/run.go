package domain

import (
	"strings"
	"time"
)

// RunSource tells where a run completion came from.
type RunSource string

const (
	RunSourceLive     RunSource = "live"
	RunSourceRecovery RunSource = "recovery"
)

// RunLog is a decoded RunCompleted chain log.
type RunLog struct {
	PlayerAddress  string
	XPEarned       uint64
	CPEarned       uint64
	DBPMinted      uint64
	Duration       uint64
	BonusThrowUsed bool
	BoostsUsed     []string
	BlockNumber    uint64
	TxHash         string
	LogIndex       uint
}

// RunData is the input of the run-completion pipeline.
type RunData struct {
	PlayerAddress  string
	XPEarned       uint64
	CPEarned       uint64
	DBPMinted      uint64
	Duration       uint64
	BonusThrowUsed bool
	BoostsUsed     []string
	TxHash         string
	BlockNumber    uint64
	Source         RunSource
}

// RunOutcome is what the completion pipeline hands back.
type RunOutcome struct {
	RunID  string
	Season int
}

// RunRecord is a persisted game run. Seed holds the transaction hash that
// carried the run on-chain.
type RunRecord struct {
	ID            string    `json:"id"`
	PlayerAddress string    `json:"player_address"`
	XPEarned      uint64    `json:"xp_earned"`
	CPEarned      uint64    `json:"cp_earned"`
	Season        int       `json:"season"`
	Seed          string    `json:"seed"`
	Source        RunSource `json:"source"`
	CreatedAt     time.Time `json:"created_at"`
}

// MatchesTxHash reports whether the record's seed refers to txHash.
// Legacy records stored the hash with a prefix, so a suffix match is accepted.
func (r *RunRecord) MatchesTxHash(txHash string) bool {
	seed := strings.ToLower(r.Seed)
	hash := strings.ToLower(txHash)
	if seed == "" || hash == "" {
		return false
	}
	return seed == hash || strings.HasSuffix(seed, hash)
}
