package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

var (
	ErrEmpty      = errors.New("passphrase: empty passphrase")
	ErrMismatch   = errors.New("passphrase: confirmation does not match")
	ErrNoTerminal = errors.New("passphrase: no terminal available")
)

// Prompter reads a secret from an interactive terminal.
type Prompter interface {
	Interactive() bool
	ReadSecret(prompt string) (string, error)
}

type stdinPrompter struct{}

func (stdinPrompter) Interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func (stdinPrompter) ReadSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Option customises a Source.
type Option func(*Source)

// WithConfirmation makes interactive prompts ask twice. Use it when the
// passphrase protects a keystore being created.
func WithConfirmation() Option {
	return func(s *Source) { s.confirm = true }
}

// WithPrompter replaces the stdin terminal prompter.
func WithPrompter(p Prompter) Option {
	return func(s *Source) { s.prompter = p }
}

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(s *Source) { s.lookupEnv = lookup }
}

// Source resolves a keystore passphrase once, from an environment variable or
// an interactive prompt, and caches the outcome.
type Source struct {
	envVar    string
	label     string
	confirm   bool
	prompter  Prompter
	lookupEnv func(string) (string, bool)

	once  sync.Once
	value string
	err   error
}

// NewSource checks envVar before prompting. label names the key in prompts
// and errors.
func NewSource(envVar, label string, opts ...Option) *Source {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "keystore"
	}
	s := &Source{
		envVar:    strings.TrimSpace(envVar),
		label:     label,
		prompter:  stdinPrompter{},
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the cached passphrase, resolving it on first use. Environment
// values are used verbatim and never need confirmation.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := s.lookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%w: %s is set but blank", ErrEmpty, s.envVar)
			}
			return value, nil
		}
	}
	if !s.prompter.Interactive() {
		if s.envVar != "" {
			return "", fmt.Errorf("%w: set %s for the %s passphrase", ErrNoTerminal, s.envVar, s.label)
		}
		return "", fmt.Errorf("%w: %s passphrase required", ErrNoTerminal, s.label)
	}

	value, err := s.prompter.ReadSecret(fmt.Sprintf("Enter %s passphrase: ", s.label))
	if err != nil {
		return "", fmt.Errorf("passphrase: read %s passphrase: %w", s.label, err)
	}
	if strings.TrimSpace(value) == "" {
		return "", ErrEmpty
	}
	if s.confirm {
		again, err := s.prompter.ReadSecret(fmt.Sprintf("Confirm %s passphrase: ", s.label))
		if err != nil {
			return "", fmt.Errorf("passphrase: read confirmation: %w", err)
		}
		if again != value {
			return "", ErrMismatch
		}
	}
	return value, nil
}
