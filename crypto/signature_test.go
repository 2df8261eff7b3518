package crypto

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestSignatureJSONWireShape(t *testing.T) {
	key := mustKey(t, testKeyHex)
	sig := signMessage(t, key, []byte("receipt"))

	encoded, err := json.Marshal(sig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var wire map[string]any
	if err := json.Unmarshal(encoded, &wire); err != nil {
		t.Fatalf("unmarshal wire: %v", err)
	}
	v, ok := wire["v"].(float64)
	if !ok || (v != 27 && v != 28) {
		t.Fatalf("expected legacy v in wire form, got %v", wire["v"])
	}
	if r, _ := wire["r"].(string); !strings.HasPrefix(r, "0x") || len(r) != 66 {
		t.Fatalf("unexpected r encoding %q", r)
	}

	var decoded RecoverableSignature
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != sig {
		t.Fatalf("signature changed across JSON: %+v vs %+v", decoded, sig)
	}

	var fromHex RecoverableSignature
	if err := json.Unmarshal([]byte(`"`+sig.Hex()+`"`), &fromHex); err != nil {
		t.Fatalf("decode hex form: %v", err)
	}
	if fromHex != sig {
		t.Fatalf("hex form decoded to a different signature")
	}
}

func TestSignatureFromBytesValidation(t *testing.T) {
	if _, err := SignatureFromBytes(make([]byte, 64)); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected length error, got %v", err)
	}
	raw := make([]byte, 65)
	raw[64] = 29
	if _, err := SignatureFromBytes(raw); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected recovery id error, got %v", err)
	}
	raw[64] = 28
	sig, err := SignatureFromBytes(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sig.V != 1 {
		t.Fatalf("expected v normalised to 1, got %d", sig.V)
	}
	if len(sig.Standard()) != 64 {
		t.Fatalf("standard form must drop the recovery id")
	}
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("0xDeaDbeefdEAdbeefdEadbEEFdeadbeEFdEaDbeeF")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := StorageHex(addr); got != "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef" {
		t.Fatalf("unexpected storage hex %s", got)
	}
	if _, err := ParseAddress("deadbeef"); err == nil {
		t.Fatalf("expected short address to fail")
	}
	if _, err := ParseAddress("0xzzadbeefdeadbeefdeadbeefdeadbeefdeadbeef"); err == nil {
		t.Fatalf("expected non-hex address to fail")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key := mustKey(t, testKeyHex)
	path := filepath.Join(t.TempDir(), "keys", "sender.json")
	if err := SaveToKeystore(path, key, "correct horse"); err != nil {
		t.Fatalf("save keystore: %v", err)
	}
	loaded, err := LoadSigningKey("", path, func() (string, error) { return "correct horse", nil })
	if err != nil {
		t.Fatalf("load keystore: %v", err)
	}
	if loaded.Address() != key.Address() {
		t.Fatalf("keystore returned a different key")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
	if _, err := LoadSigningKey(testKeyHex, path, nil); err == nil {
		t.Fatalf("expected ambiguous key source to fail")
	}
	if got := crypto.PubkeyToAddress(loaded.PublicKey); got != key.Address() {
		t.Fatalf("unexpected address %s", got)
	}
}
