package domain

// MintRequest is one badge mint call.
type MintRequest struct {
	Player  string
	TokenID int
	XP      uint64
	Season  int
}

// MintReceipt is the result of a confirmed mint.
type MintReceipt struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
}

// VerifyResult is the verdict of the proof verification service.
type VerifyResult struct {
	Verified bool
	TxHash   string
	ClaimID  string
	Reason   string
}

// ProofClaim is what a proof is claimed to prove.
type ProofClaim struct {
	AttemptID string
	TokenID   int
	XP        uint64
	Season    int
}
