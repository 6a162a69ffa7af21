package multisig

import (
	"errors"
	"fmt"

	"vaultctl/internal/squads"
)

// Failure kinds. Every error returned from a lifecycle operation wraps
// exactly one of them.
var (
	// ErrStaleSequence: the transaction index no longer matches the on-chain
	// counter. Re-read and retry at the new index.
	ErrStaleSequence = errors.New("stale transaction index")
	// ErrCompilation: the instruction batch cannot be encoded. Raised before
	// any network call.
	ErrCompilation = errors.New("instruction batch cannot be compiled")
	// ErrRejected: the program or cluster refused the submission.
	ErrRejected = errors.New("rejected by program")
	// ErrNetwork: the request did not complete. The same submission may be
	// resent unchanged.
	ErrNetwork = errors.New("network failure")
)

// OpError carries the context of a failed lifecycle operation.
type OpError struct {
	Op    string
	Index uint64
	Kind  error
	// Code is the program error code, when the cluster reported one.
	Code    uint32
	HasCode bool
	Err     error
}

func (e *OpError) Error() string {
	msg := fmt.Sprintf("%s #%d: %v", e.Op, e.Index, e.Kind)
	if e.HasCode {
		msg += fmt.Sprintf(" (%s)", squads.ErrorName(e.Code))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns a short label for the failure kind of err, "" for nil.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStaleSequence):
		return "stale_sequence"
	case errors.Is(err, ErrCompilation):
		return "compilation"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrNetwork):
		return "network"
	default:
		return "other"
	}
}
