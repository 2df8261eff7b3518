package tap

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain is the EIP-712 signing context receipts are bound to. One value is
// built per deployment and shared read-only by every recovery.
type Domain struct {
	Name              string
	Version           string
	ChainID           uint64
	VerifyingContract common.Address
}

var domainTypes = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// Validate rejects incomplete domains.
func (d Domain) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("tap: domain name required")
	}
	if strings.TrimSpace(d.Version) == "" {
		return fmt.Errorf("tap: domain version required")
	}
	if d.ChainID == 0 {
		return fmt.Errorf("tap: domain chain id required")
	}
	if d.VerifyingContract == (common.Address{}) {
		return fmt.Errorf("tap: domain verifying contract required")
	}
	return nil
}

func (d Domain) typed() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainId:           (*math.HexOrDecimal256)(new(big.Int).SetUint64(d.ChainID)),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

// Separator returns the EIP-712 domain separator hash.
func (d Domain) Separator() (common.Hash, error) {
	typed := apitypes.TypedData{
		Types:  apitypes.Types{"EIP712Domain": domainTypes},
		Domain: d.typed(),
	}
	hash, err := typed.HashStruct("EIP712Domain", typed.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("tap: hash domain: %w", err)
	}
	return common.BytesToHash(hash), nil
}
