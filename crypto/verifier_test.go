package crypto

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

const testKeyHex = "1ab42cc412b618bdea3a599e3c9bae199ebf030895b039e9db1e30dafb12b727"

func mustKey(t *testing.T, raw string) *PrivateKey {
	t.Helper()
	key, err := PrivateKeyFromHex(raw)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	return key
}

func signMessage(t *testing.T, key *PrivateKey, message []byte) RecoverableSignature {
	t.Helper()
	sig, err := key.Sign(crypto.Keccak256(message))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

func TestVerifyUpgradesAfterFirstValidSignature(t *testing.T) {
	key := mustKey(t, testKeyHex)
	verifier := NewSignatureVerifier(key.Address())
	message := []byte("paid query 1")
	sig := signMessage(t, key, message)

	if got := verifier.Signer().Kind(); got != SignerAddressOnly {
		t.Fatalf("expected address-only signer, got %s", got)
	}

	ok, err := verifier.Verify(message, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected signature to verify before upgrade")
	}

	signer := verifier.Signer()
	if signer.Kind() != SignerPublicKeyKnown {
		t.Fatalf("expected public key to be cached, got %s", signer.Kind())
	}
	if signer.Address() != key.Address() {
		t.Fatalf("cached key address %s does not match %s", signer.Address(), key.Address())
	}
	if string(signer.PublicKey()) != string(key.PubKey().Bytes()) {
		t.Fatalf("cached key differs from signing key")
	}

	ok, err = verifier.Verify(message, sig)
	if err != nil {
		t.Fatalf("verify after upgrade: %v", err)
	}
	if !ok {
		t.Fatalf("expected signature to verify after upgrade")
	}

	other := []byte("paid query 2")
	ok, err = verifier.Verify(other, signMessage(t, key, other))
	if err != nil || !ok {
		t.Fatalf("expected fresh signature to verify on fast path, ok=%v err=%v", ok, err)
	}
}

func TestVerifyRejectsUnrelatedKeyWithoutUpgrade(t *testing.T) {
	key := mustKey(t, testKeyHex)
	stranger, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	verifier := NewSignatureVerifier(key.Address())
	message := []byte("paid query")

	ok, err := verifier.Verify(message, signMessage(t, stranger, message))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("expected signature from unrelated key to be rejected")
	}
	if verifier.Signer().Kind() != SignerAddressOnly {
		t.Fatalf("verifier must not upgrade on a mismatched signature")
	}
}

func TestVerifyFastPathStillChecksSignature(t *testing.T) {
	key := mustKey(t, testKeyHex)
	stranger, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	verifier := NewSignatureVerifier(key.Address())
	message := []byte("paid query")
	if ok, err := verifier.Verify(message, signMessage(t, key, message)); err != nil || !ok {
		t.Fatalf("seed verify failed: ok=%v err=%v", ok, err)
	}

	ok, err := verifier.Verify(message, signMessage(t, stranger, message))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("cached key must not accept a signature from another key")
	}

	sig := signMessage(t, key, message)
	ok, err = verifier.Verify([]byte("tampered"), sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("cached key must not accept a signature over a different message")
	}
	if verifier.Signer().Kind() != SignerPublicKeyKnown {
		t.Fatalf("signer must never revert to address-only")
	}
}

func TestVerifyRecoveryFailure(t *testing.T) {
	key := mustKey(t, testKeyHex)
	verifier := NewSignatureVerifier(key.Address())

	// r = 0 is outside the curve order range and cannot be recovered.
	var bad RecoverableSignature
	bad.S[31] = 1

	ok, err := verifier.Verify([]byte("paid query"), bad)
	if err != ErrRecoverSignature {
		t.Fatalf("expected recovery error, got ok=%v err=%v", ok, err)
	}
	if verifier.Signer().Kind() != SignerAddressOnly {
		t.Fatalf("verifier must not upgrade after a recovery failure")
	}
}

func TestVerifyHighSIsRejectedOnBothPaths(t *testing.T) {
	key := mustKey(t, testKeyHex)
	message := []byte("paid query")
	sig := signMessage(t, key, message)

	// Flip to the malleable (n - s, v ^ 1) twin.
	n := crypto.S256().Params().N
	s := new(big.Int).SetBytes(sig.S[:])
	high := new(big.Int).Sub(n, s)
	malleable := sig
	malleable.S = [32]byte{}
	high.FillBytes(malleable.S[:])
	malleable.V ^= 1

	fresh := NewSignatureVerifier(key.Address())
	ok, err := fresh.Verify(message, malleable)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("high-S signature must be rejected before upgrade")
	}
	if fresh.Signer().Kind() != SignerAddressOnly {
		t.Fatalf("high-S signature must not upgrade the verifier")
	}

	if ok, err := fresh.Verify(message, sig); err != nil || !ok {
		t.Fatalf("canonical signature should verify: ok=%v err=%v", ok, err)
	}
	ok, err = fresh.Verify(message, malleable)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("high-S signature must be rejected after upgrade")
	}
}

func TestVerifyConcurrentUpgradeRace(t *testing.T) {
	key := mustKey(t, testKeyHex)
	verifier := NewSignatureVerifier(key.Address())
	message := []byte("racing query")
	sig := signMessage(t, key, message)

	const workers = 32
	var wg sync.WaitGroup
	results := make(chan bool, workers)
	errs := make(chan error, workers)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := verifier.Verify(message, sig)
			if err != nil {
				errs <- err
				return
			}
			results <- ok
		}()
	}
	close(start)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent verify: %v", err)
	}
	count := 0
	for ok := range results {
		if !ok {
			t.Fatalf("every concurrent caller should observe a valid signature")
		}
		count++
	}
	if count != workers {
		t.Fatalf("expected %d results, got %d", workers, count)
	}
	signer := verifier.Signer()
	if signer.Kind() != SignerPublicKeyKnown || signer.Address() != key.Address() {
		t.Fatalf("expected converged public key signer, got %s %s", signer.Kind(), signer.Address())
	}
}

func TestPublicKeyKnownRejectsMalformedKeys(t *testing.T) {
	key := mustKey(t, testKeyHex)
	valid := key.PubKey().Bytes()

	offCurve := append([]byte(nil), valid...)
	offCurve[64] ^= 0x01
	compressed := crypto.CompressPubkey(key.PubKey().PublicKey)

	cases := map[string][]byte{
		"nil":        nil,
		"empty":      {},
		"prefix":     {0x04},
		"compressed": compressed,
		"bad prefix": append([]byte{0x02}, valid[1:]...),
		"off curve":  offCurve,
	}
	for name, pub := range cases {
		t.Run(name, func(t *testing.T) {
			signer, err := PublicKeyKnown(pub)
			if !errors.Is(err, ErrInvalidPublicKey) {
				t.Fatalf("expected ErrInvalidPublicKey, got %v", err)
			}
			if signer != nil {
				t.Fatalf("expected no signer for malformed key")
			}
		})
	}

	signer, err := PublicKeyKnown(valid)
	if err != nil {
		t.Fatalf("valid key rejected: %v", err)
	}
	if signer.Kind() != SignerPublicKeyKnown || signer.Address() != key.Address() {
		t.Fatalf("unexpected signer %s %s", signer.Kind(), signer.Address())
	}
}
