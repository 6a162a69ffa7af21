package ledger

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

var (
	hexCodePattern = regexp.MustCompile(`custom program error: 0x([0-9a-fA-F]+)`)
	// Confirmation failures format the instruction error as a Go map.
	customCodePattern = regexp.MustCompile(`Custom:(\d+)`)
)

// ProgramErrorCode extracts the custom program error code carried by a
// failed simulation or confirmation.
func ProgramErrorCode(err error) (uint32, bool) {
	if err == nil {
		return 0, false
	}
	texts := []string{err.Error()}
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		texts = append(texts, rpcErr.Message)
		if rpcErr.Data != nil {
			texts = append(texts, fmt.Sprint(rpcErr.Data))
		}
	}
	for _, text := range texts {
		if m := hexCodePattern.FindStringSubmatch(text); m != nil {
			if code, err := strconv.ParseUint(m[1], 16, 32); err == nil {
				return uint32(code), true
			}
		}
		if m := customCodePattern.FindStringSubmatch(text); m != nil {
			if code, err := strconv.ParseUint(m[1], 10, 32); err == nil {
				return uint32(code), true
			}
		}
	}
	return 0, false
}

// JSON-RPC error codes of a node that evaluated the transaction itself.
// Anything else (-32005 node behind, -32004 block unavailable, -32016
// minimum context slot, rate limiting, internal errors) is transient.
const (
	codePreflightFailure      = -32002
	codeSignatureVerification = -32003
	codeInvalidParams         = -32602
	codeSignatureLength       = -32013
	codeUnsupportedVersion    = -32015
)

// Preflight failures that say nothing about the transaction itself.
var transientPreflight = []string{
	"Blockhash not found",
	"BlockhashNotFound",
	"block height exceeded",
	"Node is behind",
	"node is unhealthy",
}

// IsRejection reports whether the cluster evaluated and refused the
// transaction, as opposed to the request never completing or a node that
// could not judge it.
func IsRejection(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := ProgramErrorCode(err); ok {
		return true
	}
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case codePreflightFailure:
			return !isTransientPreflight(rpcErr)
		case codeSignatureVerification, codeInvalidParams, codeSignatureLength, codeUnsupportedVersion:
			return true
		}
		return false
	}
	return strings.Contains(err.Error(), "confirmed transaction with execution error")
}

func isTransientPreflight(rpcErr *jsonrpc.RPCError) bool {
	text := rpcErr.Message
	if rpcErr.Data != nil {
		text += " " + fmt.Sprint(rpcErr.Data)
	}
	for _, marker := range transientPreflight {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
