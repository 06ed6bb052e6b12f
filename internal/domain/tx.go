package domain

import "context"

// TxResponse is the venue's acknowledgement of a submitted transaction.
type TxResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	TxHash  string `json:"tx_hash,omitempty"`
}

// TxOutcome is the result triple of one venue write: response, hash and
// the venue-reported error. A nil Err means the venue accepted the tx.
type TxOutcome struct {
	Response *TxResponse
	Hash     string
	Err      error
}

// OK reports whether the venue accepted the transaction.
func (o TxOutcome) OK() bool { return o.Err == nil }

// OrderFunc submits one order. A non-nil error is a transport failure;
// venue rejections are reported through TxOutcome.Err.
type OrderFunc func(ctx context.Context, req OrderRequest) (TxOutcome, error)

// SubmissionAttempt records one try of an order submission.
type SubmissionAttempt struct {
	ClientOrderIndex int64
	Outcome          TxOutcome
}

// SubmissionResult is the final outcome of a retried submission plus the
// attempts made to get there.
type SubmissionResult struct {
	Outcome  TxOutcome
	Attempts []SubmissionAttempt
}

// OK reports whether the final outcome succeeded.
func (r SubmissionResult) OK() bool { return r.Outcome.Err == nil }
