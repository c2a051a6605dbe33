package domain

// Outcome is the terminal state of one dispatch attempt. Every outcome
// evicts the item from the delay queue. The only second attempt is for an
// item redelivered mid-dispatch whose attempt left no ledger record.
type Outcome string

const (
	OutcomeRelayed   Outcome = "relayed"
	OutcomeDiscarded Outcome = "discarded"
	OutcomeFailed    Outcome = "failed"
)

// Discard reasons the metrics layer tells apart. Both mean the member must
// re-register before their activities can be relayed again.
const (
	ReasonNoCredential       = "no valid credential"
	ReasonCredentialRejected = "credential rejected"
)

// CredentialDiscard reports whether r was discarded for lack of a usable
// member credential.
func (r DispatchResult) CredentialDiscard() bool {
	return r.Outcome == OutcomeDiscarded &&
		(r.Reason == ReasonNoCredential || r.Reason == ReasonCredentialRejected)
}

// DispatchResult describes how a queue item ended.
// Reason is set for discarded and failed items, Err only for failed ones.
// Recorded is true when the item's key is in the dedup ledger once the
// attempt returns.
type DispatchResult struct {
	ItemID    string  `json:"item_id"`
	SubjectID string  `json:"subject_id"`
	Outcome   Outcome `json:"outcome"`
	Reason    string  `json:"reason,omitempty"`
	Recorded  bool    `json:"recorded"`
	Err       error   `json:"-"`
}
