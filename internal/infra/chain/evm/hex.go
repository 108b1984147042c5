package evm

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// decode re-encodes a generic JSON-RPC result into a typed value.
func decode(result any, out any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func parseQuantity(result any) (uint64, error) {
	s, ok := result.(string)
	if !ok {
		return 0, fmt.Errorf("expected hex quantity, got %T", result)
	}
	return hexutil.DecodeUint64(s)
}
