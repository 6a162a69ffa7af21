package squads

import "fmt"

// Anchor framework error codes the client cares about.
const (
	ErrorConstraintSeeds       uint32 = 2006
	ErrorAccountNotInitialized uint32 = 3012
)

// Squads program error codes, numbered from Anchor's custom offset.
const (
	ErrorDuplicateMember uint32 = 6000 + iota
	ErrorEmptyMembers
	ErrorTooManyMembers
	ErrorInvalidThreshold
	ErrorUnauthorized
	ErrorNotAMember
	ErrorInvalidTransactionMessage
	ErrorStaleProposal
	ErrorInvalidProposalStatus
	ErrorInvalidTransactionIndex
	ErrorAlreadyApproved
	ErrorAlreadyRejected
	ErrorAlreadyCancelled
	ErrorInvalidNumberOfAccounts
	ErrorInvalidAccount
)

// ErrorAccountInUse is the system program's code for creating an account
// that already exists.
const ErrorAccountInUse uint32 = 0

var errorNames = map[uint32]string{
	ErrorAccountInUse:              "AccountInUse",
	ErrorConstraintSeeds:           "ConstraintSeeds",
	ErrorAccountNotInitialized:     "AccountNotInitialized",
	ErrorDuplicateMember:           "DuplicateMember",
	ErrorEmptyMembers:              "EmptyMembers",
	ErrorTooManyMembers:            "TooManyMembers",
	ErrorInvalidThreshold:          "InvalidThreshold",
	ErrorUnauthorized:              "Unauthorized",
	ErrorNotAMember:                "NotAMember",
	ErrorInvalidTransactionMessage: "InvalidTransactionMessage",
	ErrorStaleProposal:             "StaleProposal",
	ErrorInvalidProposalStatus:     "InvalidProposalStatus",
	ErrorInvalidTransactionIndex:   "InvalidTransactionIndex",
	ErrorAlreadyApproved:           "AlreadyApproved",
	ErrorAlreadyRejected:           "AlreadyRejected",
	ErrorAlreadyCancelled:          "AlreadyCancelled",
	ErrorInvalidNumberOfAccounts:   "InvalidNumberOfAccounts",
	ErrorInvalidAccount:            "InvalidAccount",
}

// ErrorName returns the symbolic name of a program error code.
func ErrorName(code uint32) string {
	if name, ok := errorNames[code]; ok {
		return name
	}
	return fmt.Sprintf("0x%x", code)
}

// IsSequenceConflict reports whether a failed create was rejected because
// the transaction index it was built for is no longer next in line.
func IsSequenceConflict(code uint32) bool {
	return code == ErrorConstraintSeeds || code == ErrorInvalidTransactionIndex
}
