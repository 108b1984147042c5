package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/badgeminter/internal/core/domain"
)

// NormalizeAddress validates a hex address and returns it lower-cased.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidAddress, addr)
	}
	return strings.ToLower(common.HexToAddress(addr).Hex()), nil
}
