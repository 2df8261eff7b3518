package crypto

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

// SaveToKeystore writes key to an Ethereum v3 keystore file at path, creating
// the parent directory with 0700 permissions when missing. Test senders and
// operator keys for tapctl are kept in this format.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	ks := keystore.NewKeyStore(tmpDir, keystore.LightScryptN, keystore.LightScryptP)
	account, err := ks.ImportECDSA(key.PrivateKey, passphrase)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(account.URL.Path, path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// LoadFromKeystore decrypts an Ethereum v3 keystore file using the supplied passphrase.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt keystore: %w", err)
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}

// LoadSigningKey resolves a key given either inline hex or a keystore path.
// The passphrase callback is only invoked for keystore files.
func LoadSigningKey(hexKey, keystorePath string, passphrase func() (string, error)) (*PrivateKey, error) {
	hexKey = strings.TrimSpace(hexKey)
	keystorePath = strings.TrimSpace(keystorePath)
	switch {
	case hexKey != "" && keystorePath != "":
		return nil, errors.New("crypto: provide either a hex key or a keystore, not both")
	case hexKey != "":
		return PrivateKeyFromHex(hexKey)
	case keystorePath != "":
		if passphrase == nil {
			return nil, errors.New("crypto: keystore passphrase source required")
		}
		secret, err := passphrase()
		if err != nil {
			return nil, err
		}
		return LoadFromKeystore(keystorePath, secret)
	default:
		return nil, errors.New("crypto: signing key required")
	}
}
