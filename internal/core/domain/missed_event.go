package domain

import "time"

// MissedEvent is a run-completion log found by recovery that had no run record.
type MissedEvent struct {
	ID             string    `json:"id"`
	PlayerAddress  string    `json:"player_address"`
	XPEarned       uint64    `json:"xp_earned"`
	CPEarned       uint64    `json:"cp_earned"`
	DBPMinted      uint64    `json:"dbp_minted"`
	Duration       uint64    `json:"duration"`
	BonusThrowUsed bool      `json:"bonus_throw_used"`
	BoostsUsed     []string  `json:"boosts_used"`
	BlockNumber    uint64    `json:"block_number"`
	TxHash         string    `json:"tx_hash"`
	LogIndex       uint      `json:"log_index"`
	Processed      bool      `json:"processed"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewMissedEvent builds an unprocessed missed event from a decoded log.
func NewMissedEvent(l RunLog) *MissedEvent {
	return &MissedEvent{
		PlayerAddress:  l.PlayerAddress,
		XPEarned:       l.XPEarned,
		CPEarned:       l.CPEarned,
		DBPMinted:      l.DBPMinted,
		Duration:       l.Duration,
		BonusThrowUsed: l.BonusThrowUsed,
		BoostsUsed:     append([]string(nil), l.BoostsUsed...),
		BlockNumber:    l.BlockNumber,
		TxHash:         l.TxHash,
		LogIndex:       l.LogIndex,
	}
}

// RunData returns the completion payload for replaying this event.
func (e *MissedEvent) RunData() RunData {
	return RunData{
		PlayerAddress:  e.PlayerAddress,
		XPEarned:       e.XPEarned,
		CPEarned:       e.CPEarned,
		DBPMinted:      e.DBPMinted,
		Duration:       e.Duration,
		BonusThrowUsed: e.BonusThrowUsed,
		BoostsUsed:     e.BoostsUsed,
		TxHash:         e.TxHash,
		BlockNumber:    e.BlockNumber,
		Source:         RunSourceRecovery,
	}
}

// MissedEventPatch is a partial update of a missed event.
type MissedEventPatch struct {
	Processed *bool
}

// MissedEventFilter selects missed events. Zero values match everything.
type MissedEventFilter struct {
	Processed *bool
	TxHash    string
	Limit     int
}

// Matches reports whether e satisfies the filter.
func (f MissedEventFilter) Matches(e *MissedEvent) bool {
	if f.Processed != nil && *f.Processed != e.Processed {
		return false
	}
	if f.TxHash != "" && f.TxHash != e.TxHash {
		return false
	}
	return true
}
