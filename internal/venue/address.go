package venue

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ValidateAddress checks that addr is a well-formed Ethereum-style hex
// address and returns its EIP-55 checksummed form. The engine never signs
// with these addresses itself (signing is delegated to the external
// subprocess per §6/§9) — this is shape validation only, applied to the
// user wallet and agent address the engine is configured with.
func ValidateAddress(addr string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("venue: %q is not a valid address", addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}
