package domain

// EscrowStatus is derived from an escrow and its transfer application.
type EscrowStatus string

const (
	EscrowStatusUnknown  EscrowStatus = "unknown"
	EscrowStatusActive   EscrowStatus = "active"
	EscrowStatusCanceled EscrowStatus = "canceled"
	// EscrowStatusFinished means the agent finished the escrow but the
	// issuer has not yet approved the transfer.
	EscrowStatusFinished EscrowStatus = "finished"
	EscrowStatusSettled  EscrowStatus = "settled"
)

// Escrow holds a sender's committed units for a recipient until the agent
// finishes or either party cancels.
type Escrow struct {
	ID        uint64  `json:"id"`
	Asset     Address `json:"asset"`
	Sender    Address `json:"sender"`
	Recipient Address `json:"recipient"`
	Amount    Amount  `json:"amount"`
	Agent     Address `json:"agent"`
	Valid     bool    `json:"valid"`
	Settled   bool    `json:"settled"`
	Memo      string  `json:"memo,omitempty"`
}

// Exists reports whether e is a stored escrow rather than a zero record.
func (e Escrow) Exists() bool {
	return e.ID != 0
}

// TransferApplication is the issuer-approval record created alongside an
// escrow whose asset requires transfer approval.
type TransferApplication struct {
	EscrowID        uint64 `json:"escrow_id"`
	ApplicationData string `json:"application_data"`
	ApprovalData    string `json:"approval_data"`
	Pending         bool   `json:"pending"`
	Valid           bool   `json:"valid"`
	EscrowFinished  bool   `json:"escrow_finished"`
}

// Exists reports whether a is a stored application rather than a zero record.
func (a TransferApplication) Exists() bool {
	return a.EscrowID != 0
}

// AwaitingApproval reports whether the escrow was finished and the issuer
// must still approve the transfer.
func (a TransferApplication) AwaitingApproval() bool {
	return a.Valid && a.Pending && a.EscrowFinished
}

// Status derives the escrow lifecycle state. app is the zero record when the
// asset does not require transfer approval.
func (e Escrow) Status(app TransferApplication) EscrowStatus {
	switch {
	case !e.Exists():
		return EscrowStatusUnknown
	case e.Valid:
		return EscrowStatusActive
	case e.Settled:
		return EscrowStatusSettled
	case app.AwaitingApproval():
		return EscrowStatusFinished
	default:
		return EscrowStatusCanceled
	}
}
