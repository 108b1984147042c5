package chain

import (
	"errors"
	"net/http"
	"strings"

	"github.com/vietddude/badgeminter/internal/core/domain"
	"github.com/vietddude/badgeminter/internal/infra/rpc/provider"
)

// Revert reasons and node messages that will not change on retry.
var permanentPatterns = []string{
	"execution reverted",
	"already minted",
	"already claimed",
	"invalid token",
	"invalid season",
	"invalid argument",
	"invalid params",
	"transaction reverted",
}

// Messages that look fatal but clear up on their own.
var transientPatterns = []string{
	"nonce too low",
	"replacement transaction underpriced",
	"already known",
	"insufficient funds",
	"timeout",
	"receipt not found",
}

// ClassifyMintError turns any submission error into a *domain.MintError with
// the Permanent flag set for failures that retrying cannot fix.
func ClassifyMintError(err error) *domain.MintError {
	if err == nil {
		return nil
	}

	var me *domain.MintError
	if errors.As(err, &me) {
		return me
	}

	out := &domain.MintError{Message: err.Error(), Err: err}

	var rpcErr *provider.RPCError
	if errors.As(err, &rpcErr) {
		out.Code = rpcErr.Code
		out.Message = rpcErr.Message
		if rpcErr.Code == 3 || rpcErr.Code == -32602 {
			out.Permanent = !matchesAny(rpcErr.Message, transientPatterns)
			return out
		}
	}

	var httpErr *provider.HTTPError
	if errors.As(err, &httpErr) {
		out.Code = httpErr.StatusCode
		switch httpErr.StatusCode {
		case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
			out.Permanent = true
			return out
		}
	}

	if matchesAny(out.Message, transientPatterns) {
		return out
	}
	out.Permanent = matchesAny(out.Message, permanentPatterns)
	return out
}

func matchesAny(msg string, patterns []string) bool {
	lower := strings.ToLower(msg)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
