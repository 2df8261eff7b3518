package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"indexerservice/crypto"
	"indexerservice/tap"
)

var receiptNow = time.Now

type domainFlags struct {
	name     string
	version  string
	chainID  uint64
	contract string
}

func (d *domainFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&d.name, "domain-name", "TAP", "EIP-712 domain name")
	fs.StringVar(&d.version, "domain-version", "1", "EIP-712 domain version")
	fs.Uint64Var(&d.chainID, "chain-id", 0, "EIP-712 domain chain id")
	fs.StringVar(&d.contract, "verifying-contract", "", "EIP-712 verifying contract address")
}

func (d *domainFlags) domain() (tap.Domain, error) {
	contract, err := crypto.ParseAddress(d.contract)
	if err != nil {
		return tap.Domain{}, fmt.Errorf("--verifying-contract: %w", err)
	}
	domain := tap.Domain{Name: d.name, Version: d.version, ChainID: d.chainID, VerifyingContract: contract}
	if err := domain.Validate(); err != nil {
		return tap.Domain{}, err
	}
	return domain, nil
}

func runSignReceipt(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("sign-receipt", stderr)
	var (
		keys        keyFlags
		domainOpts  domainFlags
		allocation  string
		nonce       uint64
		timestampNs uint64
		valueStr    string
	)
	keys.register(fs)
	domainOpts.register(fs)
	fs.StringVar(&allocation, "allocation", "", "allocation id the receipt pays")
	fs.Uint64Var(&nonce, "nonce", 0, "receipt nonce, unique per allocation and sender")
	fs.Uint64Var(&timestampNs, "timestamp-ns", 0, "receipt timestamp in unix nanoseconds (default now)")
	fs.StringVar(&valueStr, "value", "", "receipt value as a decimal integer (uint128)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if rejectPositional(fs, stderr) {
		return 1
	}

	domain, err := domainOpts.domain()
	if err != nil {
		return printError(stderr, err)
	}
	allocationID, err := crypto.ParseAddress(allocation)
	if err != nil {
		return printError(stderr, fmt.Errorf("--allocation: %w", err))
	}
	if strings.TrimSpace(valueStr) == "" {
		return printError(stderr, errors.New("--value is required"))
	}
	value, err := uint256.FromDecimal(strings.TrimSpace(valueStr))
	if err != nil {
		return printError(stderr, fmt.Errorf("--value: %w", err))
	}
	if timestampNs == 0 {
		timestampNs = uint64(receiptNow().UnixNano())
	}
	key, err := keys.load()
	if err != nil {
		return printError(stderr, err)
	}

	signed, err := tap.SignReceipt(domain, tap.Receipt{
		AllocationID: allocationID,
		TimestampNs:  timestampNs,
		Nonce:        nonce,
		Value:        value,
	}, key)
	if err != nil {
		return printError(stderr, err)
	}
	encoded, err := json.Marshal(signed)
	if err != nil {
		return printError(stderr, err)
	}
	fmt.Fprintln(stdout, string(encoded))
	return 0
}

func runRecoverReceipt(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := newFlagSet("recover-receipt", stderr)
	var (
		domainOpts domainFlags
		path       string
	)
	domainOpts.register(fs)
	fs.StringVar(&path, "file", "", "read the receipt from a file instead of stdin")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if rejectPositional(fs, stderr) {
		return 1
	}
	domain, err := domainOpts.domain()
	if err != nil {
		return printError(stderr, err)
	}

	var raw []byte
	if path != "" {
		raw, err = os.ReadFile(path)
	} else {
		raw, err = io.ReadAll(stdin)
	}
	if err != nil {
		return printError(stderr, fmt.Errorf("read receipt: %w", err))
	}
	signed, err := tap.DecodeSignedReceipt(raw)
	if err != nil {
		return printError(stderr, err)
	}
	signer, err := signed.RecoverSigner(domain)
	if err != nil {
		return printError(stderr, err)
	}
	fmt.Fprintln(stdout, signer.Hex())
	return 0
}
