package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"indexerservice/crypto"
)

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	var keys keyFlags
	keys.register(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if rejectPositional(fs, stderr) {
		return 1
	}
	key, err := keys.load()
	if err != nil {
		return printError(stderr, err)
	}
	fmt.Fprintln(stdout, key.Address().Hex())
	return 0
}

func runGenerateKey(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("generate-key", stderr)
	var path string
	fs.StringVar(&path, "keystore", "", "destination keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if rejectPositional(fs, stderr) {
		return 1
	}
	if strings.TrimSpace(path) == "" {
		return printError(stderr, errors.New("--keystore is required"))
	}
	secret, err := newPassphraseSource(true)()
	if err != nil {
		return printError(stderr, err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err)
	}
	if err := crypto.SaveToKeystore(path, key, secret); err != nil {
		return printError(stderr, fmt.Errorf("write keystore: %w", err))
	}
	fmt.Fprintf(stdout, "Address: %s\nKeystore: %s\n", key.Address().Hex(), path)
	return 0
}
