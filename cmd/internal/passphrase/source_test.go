package passphrase

import (
	"errors"
	"testing"
)

type scriptedPrompter struct {
	interactive bool
	answers     []string
	prompts     []string
}

func (p *scriptedPrompter) Interactive() bool { return p.interactive }

func (p *scriptedPrompter) ReadSecret(prompt string) (string, error) {
	p.prompts = append(p.prompts, prompt)
	if len(p.answers) == 0 {
		return "", errors.New("no more input")
	}
	next := p.answers[0]
	p.answers = p.answers[1:]
	return next, nil
}

func env(values map[string]string) Option {
	return WithLookupEnv(func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	})
}

func TestSourceReadsEnvironmentOnce(t *testing.T) {
	t.Setenv("TAP_TEST_PASSPHRASE", "correct horse")
	src := NewSource("TAP_TEST_PASSPHRASE", "sender key")

	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "correct horse" {
		t.Fatalf("unexpected passphrase %q", got)
	}

	t.Setenv("TAP_TEST_PASSPHRASE", "changed")
	again, err := src.Get()
	if err != nil || again != "correct horse" {
		t.Fatalf("expected cached passphrase, got %q (%v)", again, err)
	}
}

func TestSourceEnvironmentSkipsConfirmation(t *testing.T) {
	prompter := &scriptedPrompter{interactive: true}
	src := NewSource("PASS", "sender keystore", WithConfirmation(), WithPrompter(prompter),
		env(map[string]string{"PASS": "from env"}))
	got, err := src.Get()
	if err != nil || got != "from env" {
		t.Fatalf("expected environment value, got %q (%v)", got, err)
	}
	if len(prompter.prompts) != 0 {
		t.Fatalf("environment value must not prompt, got %v", prompter.prompts)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	src := NewSource("PASS", "", env(map[string]string{"PASS": "   "}))
	if _, err := src.Get(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	src := NewSource("PASS", "sender keystore", WithPrompter(&scriptedPrompter{}), env(nil))
	_, err := src.Get()
	if !errors.Is(err, ErrNoTerminal) {
		t.Fatalf("expected ErrNoTerminal, got %v", err)
	}
	if got := err.Error(); got != "passphrase: no terminal available: set PASS for the sender keystore passphrase" {
		t.Fatalf("unexpected error %q", got)
	}
}

func TestSourcePrompts(t *testing.T) {
	cases := map[string]struct {
		confirm bool
		answers []string
		want    string
		wantErr error
		prompts int
	}{
		"single prompt":     {answers: []string{"hunter2"}, want: "hunter2", prompts: 1},
		"confirmed":         {confirm: true, answers: []string{"hunter2", "hunter2"}, want: "hunter2", prompts: 2},
		"mismatch":          {confirm: true, answers: []string{"hunter2", "hunter3"}, wantErr: ErrMismatch, prompts: 2},
		"blank":             {confirm: true, answers: []string{"  "}, wantErr: ErrEmpty, prompts: 1},
		"read failure":      {answers: nil, prompts: 1},
		"confirmation fail": {confirm: true, answers: []string{"hunter2"}, prompts: 2},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			prompter := &scriptedPrompter{interactive: true, answers: tc.answers}
			opts := []Option{WithPrompter(prompter), env(nil)}
			if tc.confirm {
				opts = append(opts, WithConfirmation())
			}
			got, err := NewSource("PASS", "sender keystore", opts...).Get()
			if len(prompter.prompts) != tc.prompts {
				t.Fatalf("expected %d prompts, got %v", tc.prompts, prompter.prompts)
			}
			if tc.want != "" {
				if err != nil || got != tc.want {
					t.Fatalf("got %q (%v), want %q", got, err, tc.want)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected an error, got %q", got)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
	prompter := &scriptedPrompter{interactive: true, answers: []string{"x"}}
	if _, err := NewSource("", "sender keystore", WithPrompter(prompter)).Get(); err != nil {
		t.Fatalf("get: %v", err)
	}
	if prompter.prompts[0] != "Enter sender keystore passphrase: " {
		t.Fatalf("unexpected prompt %q", prompter.prompts[0])
	}
}
