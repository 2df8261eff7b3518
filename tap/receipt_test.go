package tap

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"indexerservice/crypto"
)

const testSenderKey = "1ab42cc412b618bdea3a599e3c9bae199ebf030895b039e9db1e30dafb12b727"

func testDomain() Domain {
	return Domain{
		Name:              "TAP",
		Version:           "1",
		ChainID:           1,
		VerifyingContract: common.BytesToAddress([]byte{
			0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11,
			0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11,
		}),
	}
}

func maxU128() *uint256.Int {
	v := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	return v.SubUint64(v, 1)
}

func testSender(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.PrivateKeyFromHex(testSenderKey)
	require.NoError(t, err)
	return key
}

func maxReceipt() Receipt {
	return Receipt{
		AllocationID: common.HexToAddress("0xdeadbeefcafebabedeadbeefcafebabedeadbeef"),
		TimestampNs:  math.MaxUint64,
		Nonce:        math.MaxUint64,
		Value:        maxU128(),
	}
}

func TestSignAndRecoverReceipt(t *testing.T) {
	key := testSender(t)
	signed, err := SignReceipt(testDomain(), maxReceipt(), key)
	require.NoError(t, err)

	signer, err := signed.RecoverSigner(testDomain())
	require.NoError(t, err)
	require.Equal(t, key.Address(), signer)
}

func TestRecoverUnderOtherDomainYieldsOtherSigner(t *testing.T) {
	key := testSender(t)
	signed, err := SignReceipt(testDomain(), maxReceipt(), key)
	require.NoError(t, err)

	other := testDomain()
	other.ChainID = 5
	signer, err := signed.RecoverSigner(other)
	require.NoError(t, err)
	require.NotEqual(t, key.Address(), signer, "domain must be bound into the digest")
}

func TestDigestCoversEveryField(t *testing.T) {
	base, err := maxReceipt().Digest(testDomain())
	require.NoError(t, err)

	mutations := map[string]func(*Receipt){
		"allocation": func(r *Receipt) { r.AllocationID = common.HexToAddress("0x01") },
		"timestamp":  func(r *Receipt) { r.TimestampNs-- },
		"nonce":      func(r *Receipt) { r.Nonce-- },
		"value":      func(r *Receipt) { r.Value = uint256.NewInt(1) },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			receipt := maxReceipt()
			mutate(&receipt)
			digest, err := receipt.Digest(testDomain())
			require.NoError(t, err)
			require.NotEqual(t, base, digest)
		})
	}
}

func TestDigestRejectsValueAbove128Bits(t *testing.T) {
	receipt := maxReceipt()
	receipt.Value = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	_, err := receipt.Digest(testDomain())
	require.ErrorIs(t, err, ErrMalformedReceipt)
}

func TestDomainSeparatorDependsOnEveryField(t *testing.T) {
	base, err := testDomain().Separator()
	require.NoError(t, err)
	require.NoError(t, testDomain().Validate())

	variants := []Domain{testDomain(), testDomain(), testDomain(), testDomain()}
	variants[0].Name = "TAP2"
	variants[1].Version = "2"
	variants[2].ChainID = 42161
	variants[3].VerifyingContract = common.HexToAddress("0x22")
	for _, variant := range variants {
		sep, err := variant.Separator()
		require.NoError(t, err)
		require.NotEqual(t, base, sep)
	}

	require.Error(t, Domain{Name: "TAP", Version: "1", ChainID: 1}.Validate())
}

func TestSignedReceiptJSONRoundTrip(t *testing.T) {
	signed, err := SignReceipt(testDomain(), maxReceipt(), testSender(t))
	require.NoError(t, err)

	encoded, err := json.Marshal(signed)
	require.NoError(t, err)
	require.Contains(t, string(encoded), `"value":340282366920938463463374607431768211455`)
	require.Contains(t, string(encoded), `"timestamp_ns":18446744073709551615`)

	decoded, err := DecodeSignedReceipt(encoded)
	require.NoError(t, err)
	require.Equal(t, signed.Signature, decoded.Signature)
	require.Equal(t, signed.Message.AllocationID, decoded.Message.AllocationID)
	require.Equal(t, signed.Message.Nonce, decoded.Message.Nonce)
	require.Equal(t, signed.Message.TimestampNs, decoded.Message.TimestampNs)
	require.True(t, signed.Message.Value.Eq(decoded.Message.Value))
}

func TestDecodeSignedReceiptRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"not json":          `{`,
		"missing signature": `{"message":{"allocation_id":"0xdeadbeefcafebabedeadbeefcafebabedeadbeef","timestamp_ns":1,"nonce":1,"value":1}}`,
		"missing message":   `{"signature":{"r":"0x01","s":"0x01","v":27}}`,
		"value too large":   `{"message":{"allocation_id":"0xdeadbeefcafebabedeadbeefcafebabedeadbeef","timestamp_ns":1,"nonce":1,"value":340282366920938463463374607431768211456},"signature":{"r":"0x01","s":"0x01","v":27}}`,
		"negative value":    `{"message":{"allocation_id":"0xdeadbeefcafebabedeadbeefcafebabedeadbeef","timestamp_ns":1,"nonce":1,"value":-1},"signature":{"r":"0x01","s":"0x01","v":27}}`,
		"bad recovery id":   `{"message":{"allocation_id":"0xdeadbeefcafebabedeadbeefcafebabedeadbeef","timestamp_ns":1,"nonce":1,"value":1},"signature":{"r":"0x01","s":"0x01","v":30}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeSignedReceipt([]byte(payload))
			require.Error(t, err)
			require.True(t,
				errors.Is(err, ErrMalformedReceipt) || errors.Is(err, crypto.ErrInvalidSignature),
				"unexpected error class: %v", err)
		})
	}
}

func TestDecodeAcceptsStringValue(t *testing.T) {
	payload := `{"message":{"allocation_id":"0xdeadbeefcafebabedeadbeefcafebabedeadbeef","timestamp_ns":5,"nonce":6,"value":"1000"},"signature":{"r":"0x01","s":"0x02","v":28}}`
	decoded, err := DecodeSignedReceipt([]byte(payload))
	require.NoError(t, err)
	require.Equal(t, uint64(1000), decoded.Message.Value.Uint64())
	require.Equal(t, byte(1), decoded.Signature.V)
	require.True(t, strings.HasSuffix(decoded.Signature.Hex(), "01"))
}
