package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"indexerservice/cmd/internal/passphrase"
	"indexerservice/crypto"
)

// PassphraseEnv supplies the keystore passphrase non-interactively.
const PassphraseEnv = "TAPCTL_KEYSTORE_PASSPHRASE"

// newPassphraseSource asks twice when confirm is set, for keystores being created.
var newPassphraseSource = func(confirm bool) func() (string, error) {
	var opts []passphrase.Option
	if confirm {
		opts = append(opts, passphrase.WithConfirmation())
	}
	return passphrase.NewSource(PassphraseEnv, "sender keystore", opts...).Get
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "address":
		return runAddress(args[1:], stdout, stderr)
	case "generate-key":
		return runGenerateKey(args[1:], stdout, stderr)
	case "sign-receipt":
		return runSignReceipt(args[1:], stdout, stderr)
	case "recover-receipt":
		return runRecoverReceipt(args[1:], os.Stdin, stdout, stderr)
	case "verify":
		return runVerify(args[1:], stdout, stderr)
	case "listen":
		return runListen(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.Join([]string{
		"Usage: tapctl <command> [flags]",
		"",
		"Commands:",
		"  address          print the address of a signing key",
		"  generate-key     create a sender key in a keystore file",
		"  sign-receipt     sign a receipt and print its JSON form",
		"  recover-receipt  recover the signer of a JSON receipt",
		"  verify           check a message signature against an address",
		"  listen           print receipt notifications as they arrive",
	}, "\n")
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// keyFlags registers the shared --key/--keystore pair.
type keyFlags struct {
	hex      string
	keystore string
}

func (k *keyFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&k.hex, "key", "", "hex-encoded secp256k1 private key")
	fs.StringVar(&k.keystore, "keystore", "", "path to an Ethereum v3 keystore file")
}

func (k *keyFlags) load() (*crypto.PrivateKey, error) {
	return crypto.LoadSigningKey(k.hex, k.keystore, newPassphraseSource(false))
}

func printError(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

func rejectPositional(fs *flag.FlagSet, stderr io.Writer) bool {
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return true
	}
	return false
}
