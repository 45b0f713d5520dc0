// Package secrets resolves the provider credential. Values are never logged;
// only their length is.
package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"voice-chain-go/internal/logger"
)

var (
	// ErrNotFound means a provider has no value for the key. Chain moves on.
	ErrNotFound = errors.New("credential not found")
	// ErrDeclined means the operator refused to load the secret file.
	ErrDeclined = errors.New("loading credential from secret file declined")
)

// Provider returns the credential or an error. Implementations must not
// return an empty string with a nil error.
type Provider interface {
	Credential(ctx context.Context) (string, error)
}

// Env reads Key from the process environment.
type Env struct {
	Key    string
	Getenv func(string) string
}

func (e Env) Credential(context.Context) (string, error) {
	get := e.Getenv
	if get == nil {
		get = os.Getenv
	}
	v := strings.TrimSpace(get(e.Key))
	if v == "" {
		return "", fmt.Errorf("%s not set in environment: %w", e.Key, ErrNotFound)
	}
	logger.Component("secrets").WithSecret(strings.ToLower(e.Key), v).Info("credential from environment")
	return v, nil
}

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// File reads Key from a dotenv-style file, but only after Confirmer agrees.
type File struct {
	Path      string
	Key       string
	Confirmer Confirmer
}

func (f File) Credential(ctx context.Context) (string, error) {
	log := logger.Component("secrets")
	if f.Confirmer == nil {
		return "", fmt.Errorf("no confirmer for %s: %w", f.Path, ErrDeclined)
	}
	ok, err := f.Confirmer.Confirm(ctx, fmt.Sprintf("%s not set. Load it from %s?", f.Key, f.Path))
	if err != nil {
		return "", fmt.Errorf("confirm secret file: %w", err)
	}
	if !ok {
		return "", ErrDeclined
	}

	values, err := godotenv.Read(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("secret file %s missing: %w", f.Path, ErrNotFound)
		}
		return "", fmt.Errorf("read secret file %s: %w", f.Path, err)
	}
	v := strings.TrimSpace(values[f.Key])
	if v == "" {
		return "", fmt.Errorf("%s not in %s: %w", f.Key, f.Path, ErrNotFound)
	}
	log.WithSecret(strings.ToLower(f.Key), v).WithField("file", f.Path).Info("credential loaded from secret file")
	return v, nil
}

// Chain tries providers in order and returns the first value. Only ErrNotFound
// falls through; any other error, including ErrDeclined, stops the chain.
type Chain []Provider

func (c Chain) Credential(ctx context.Context) (string, error) {
	var lastErr error = ErrNotFound
	for _, p := range c {
		v, err := p.Credential(ctx)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// PromptConfirmer asks on Out and reads a y/N answer from In. Anything but
// "y" or "yes" is a no.
type PromptConfirmer struct {
	In  io.Reader
	Out io.Writer
}

func (p PromptConfirmer) Confirm(ctx context.Context, question string) (bool, error) {
	if _, err := fmt.Fprintf(p.Out, "%s (y/N) ", question); err != nil {
		return false, err
	}
	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(p.In).ReadString('\n')
		answer <- line
	}()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line := <-answer:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
