package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"indexerservice/crypto"
)

// runVerify checks one or more signatures over a message against an address.
// Signatures are checked in order through one verifier, so the first valid
// signature caches the public key for the rest.
func runVerify(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("verify", stderr)
	var (
		address    string
		message    string
		messageHex string
		signatures string
	)
	fs.StringVar(&address, "address", "", "expected signer address")
	fs.StringVar(&message, "message", "", "message as UTF-8 text")
	fs.StringVar(&messageHex, "message-hex", "", "message as 0x-prefixed hex")
	fs.StringVar(&signatures, "signature", "", "comma-separated 65-byte hex signatures")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if rejectPositional(fs, stderr) {
		return 1
	}

	signer, err := crypto.ParseAddress(address)
	if err != nil {
		return printError(stderr, fmt.Errorf("--address: %w", err))
	}
	var payload []byte
	switch {
	case message != "" && messageHex != "":
		return printError(stderr, errors.New("provide either --message or --message-hex"))
	case messageHex != "":
		payload, err = hexutil.Decode(messageHex)
		if err != nil {
			return printError(stderr, fmt.Errorf("--message-hex: %w", err))
		}
	default:
		payload = []byte(message)
	}
	if strings.TrimSpace(signatures) == "" {
		return printError(stderr, errors.New("--signature is required"))
	}

	verifier := crypto.NewSignatureVerifier(signer)
	allValid := true
	for _, raw := range strings.Split(signatures, ",") {
		sig, err := crypto.SignatureFromHex(strings.TrimSpace(raw))
		if err != nil {
			return printError(stderr, err)
		}
		ok, err := verifier.Verify(payload, sig)
		if err != nil {
			return printError(stderr, err)
		}
		status := "invalid"
		if ok {
			status = "valid"
		} else {
			allValid = false
		}
		fmt.Fprintf(stdout, "%s %s (signer: %s)\n", sig.Hex(), status, verifier.Signer().Kind())
	}
	if !allValid {
		return 2
	}
	return 0
}
