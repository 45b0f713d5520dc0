package secrets

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fixedConfirmer struct {
	answer bool
	asked  int
}

func (f *fixedConfirmer) Confirm(context.Context, string) (bool, error) {
	f.asked++
	return f.answer, nil
}

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), ".env.local")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestEnv(t *testing.T) {
	env := map[string]string{"RETELL_API_KEY": "  key_abc  "}
	p := Env{Key: "RETELL_API_KEY", Getenv: func(k string) string { return env[k] }}
	got, err := p.Credential(context.Background())
	if err != nil || got != "key_abc" {
		t.Fatalf("got %q, %v", got, err)
	}

	empty := Env{Key: "RETELL_API_KEY", Getenv: func(string) string { return "" }}
	if _, err := empty.Credential(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFile(t *testing.T) {
	path := writeEnvFile(t, "OTHER=1\nRETELL_API_KEY=\"key_from_file\"\n")

	tests := []struct {
		name    string
		path    string
		answer  bool
		want    string
		wantErr error
	}{
		{"confirmed", path, true, "key_from_file", nil},
		{"declined", path, false, "", ErrDeclined},
		{"missing file", filepath.Join(t.TempDir(), "nope"), true, "", ErrNotFound},
		{"key absent", writeEnvFile(t, "OTHER=1\n"), true, "", ErrNotFound},
		{"key empty", writeEnvFile(t, "RETELL_API_KEY=\n"), true, "", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fixedConfirmer{answer: tt.answer}
			got, err := File{Path: tt.path, Key: "RETELL_API_KEY", Confirmer: c}.Credential(context.Background())
			if c.asked != 1 {
				t.Errorf("asked %d times, want 1", c.asked)
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("got %q, %v", got, err)
			}
		})
	}
}

func TestFile_NoConfirmerNeverReads(t *testing.T) {
	path := writeEnvFile(t, "RETELL_API_KEY=key\n")
	if _, err := (File{Path: path, Key: "RETELL_API_KEY"}).Credential(context.Background()); !errors.Is(err, ErrDeclined) {
		t.Fatalf("err = %v, want ErrDeclined", err)
	}
}

func TestChain(t *testing.T) {
	path := writeEnvFile(t, "RETELL_API_KEY=key_file\n")
	noEnv := Env{Key: "RETELL_API_KEY", Getenv: func(string) string { return "" }}
	withEnv := Env{Key: "RETELL_API_KEY", Getenv: func(string) string { return "key_env" }}

	t.Run("env wins without prompting", func(t *testing.T) {
		c := &fixedConfirmer{answer: true}
		got, err := Chain{withEnv, File{Path: path, Key: "RETELL_API_KEY", Confirmer: c}}.Credential(context.Background())
		if err != nil || got != "key_env" {
			t.Fatalf("got %q, %v", got, err)
		}
		if c.asked != 0 {
			t.Error("prompted although the environment had the key")
		}
	})
	t.Run("falls through to file", func(t *testing.T) {
		c := &fixedConfirmer{answer: true}
		got, err := Chain{noEnv, File{Path: path, Key: "RETELL_API_KEY", Confirmer: c}}.Credential(context.Background())
		if err != nil || got != "key_file" {
			t.Fatalf("got %q, %v", got, err)
		}
	})
	t.Run("decline stops", func(t *testing.T) {
		c := &fixedConfirmer{answer: false}
		_, err := Chain{noEnv, File{Path: path, Key: "RETELL_API_KEY", Confirmer: c}, withEnv}.Credential(context.Background())
		if !errors.Is(err, ErrDeclined) {
			t.Fatalf("err = %v, want ErrDeclined", err)
		}
	})
	t.Run("empty chain", func(t *testing.T) {
		if _, err := (Chain{}).Credential(context.Background()); !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestPromptConfirmer(t *testing.T) {
	for input, want := range map[string]bool{
		"y\n":   true,
		"YES\n": true,
		"n\n":   false,
		"\n":    false,
		"":      false,
		"yep\n": false,
	} {
		var out bytes.Buffer
		got, err := PromptConfirmer{In: strings.NewReader(input), Out: &out}.Confirm(context.Background(), "Load?")
		if err != nil {
			t.Fatalf("%q: %v", input, err)
		}
		if got != want {
			t.Errorf("%q: got %v, want %v", input, got, want)
		}
		if !strings.Contains(out.String(), "Load? (y/N)") {
			t.Errorf("prompt = %q", out.String())
		}
	}
}

func TestPromptConfirmer_Canceled(t *testing.T) {
	r, w, _ := os.Pipe()
	defer r.Close()
	defer w.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := PromptConfirmer{In: r, Out: &bytes.Buffer{}}.Confirm(ctx, "Load?")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
