package domain

import "time"

// AttemptStatus is the lifecycle state of a mint attempt.
type AttemptStatus string

const (
	AttemptStatusPendingVerification AttemptStatus = "pending_verification"
	AttemptStatusPending             AttemptStatus = "pending"
	AttemptStatusMinting             AttemptStatus = "minting"
	AttemptStatusCompleted           AttemptStatus = "completed"
	AttemptStatusFailed              AttemptStatus = "failed"
	AttemptStatusAbandoned           AttemptStatus = "abandoned"
)

// FailureKind records why an attempt last failed.
type FailureKind string

const (
	FailureKindNone          FailureKind = ""
	FailureKindTransient     FailureKind = "transient"
	FailureKindPermanent     FailureKind = "permanent"
	FailureKindProofRejected FailureKind = "proof_rejected"
)

// Attempt is one tracked intent to mint a badge for a specific run.
type Attempt struct {
	ID              string        `json:"id"`
	PlayerAddress   string        `json:"player_address"`
	RunID           string        `json:"run_id"`
	XPEarned        uint64        `json:"xp_earned"`
	Season          int           `json:"season"`
	TokenID         int           `json:"token_id"`
	Status          AttemptStatus `json:"status"`
	RetryCount      int           `json:"retry_count"`
	LastRetryAt     *time.Time    `json:"last_retry_at,omitempty"`
	RequiresZKProof bool          `json:"requires_zk_proof"`
	ZKProofData     []byte        `json:"zk_proof_data,omitempty"`
	ZKProofVerified bool          `json:"zk_proof_verified"`
	TxHash          string        `json:"tx_hash,omitempty"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	FailureKind     FailureKind   `json:"failure_kind,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// IsTerminal reports whether the attempt will never be processed again.
func (a *Attempt) IsTerminal() bool {
	switch a.Status {
	case AttemptStatusCompleted, AttemptStatusAbandoned:
		return true
	case AttemptStatusFailed:
		return a.FailureKind == FailureKindProofRejected || a.FailureKind == FailureKindPermanent
	}
	return false
}

// BlocksDuplicate reports whether the attempt occupies its (player, run) slot.
// Completed attempts keep the slot so a run is never minted twice.
func (a *Attempt) BlocksDuplicate() bool {
	if a.Status == AttemptStatusAbandoned {
		return false
	}
	return !(a.Status == AttemptStatusFailed && a.FailureKind == FailureKindProofRejected)
}

// Clone returns a copy safe to hand out of a lock.
func (a *Attempt) Clone() *Attempt {
	c := *a
	if a.LastRetryAt != nil {
		t := *a.LastRetryAt
		c.LastRetryAt = &t
	}
	if a.ZKProofData != nil {
		c.ZKProofData = append([]byte(nil), a.ZKProofData...)
	}
	return &c
}

// AttemptPatch is a partial update. Nil fields are left untouched.
type AttemptPatch struct {
	Status          *AttemptStatus
	RetryCount      *int
	LastRetryAt     *time.Time
	ZKProofData     []byte
	ZKProofVerified *bool
	TxHash          *string
	ErrorMessage    *string
	FailureKind     *FailureKind
}

// Apply copies the set fields of p onto a.
func (p AttemptPatch) Apply(a *Attempt) {
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.RetryCount != nil {
		a.RetryCount = *p.RetryCount
	}
	if p.LastRetryAt != nil {
		t := *p.LastRetryAt
		a.LastRetryAt = &t
	}
	if p.ZKProofData != nil {
		a.ZKProofData = append([]byte(nil), p.ZKProofData...)
	}
	if p.ZKProofVerified != nil {
		a.ZKProofVerified = *p.ZKProofVerified
	}
	if p.TxHash != nil {
		a.TxHash = *p.TxHash
	}
	if p.ErrorMessage != nil {
		a.ErrorMessage = *p.ErrorMessage
	}
	if p.FailureKind != nil {
		a.FailureKind = *p.FailureKind
	}
}

// AttemptFilter selects attempts. Zero values match everything.
type AttemptFilter struct {
	IDs           []string
	Statuses      []AttemptStatus
	PlayerAddress string
	RunID         string
	Limit         int
}

// Matches reports whether a satisfies the filter.
func (f AttemptFilter) Matches(a *Attempt) bool {
	if len(f.IDs) > 0 && !contains(f.IDs, a.ID) {
		return false
	}
	if len(f.Statuses) > 0 && !contains(f.Statuses, a.Status) {
		return false
	}
	if f.PlayerAddress != "" && f.PlayerAddress != a.PlayerAddress {
		return false
	}
	if f.RunID != "" && f.RunID != a.RunID {
		return false
	}
	return true
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
