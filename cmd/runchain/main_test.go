package main

import (
	"bytes"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParseArgs(t *testing.T) {
	idsFile := filepath.Join(t.TempDir(), "ids.txt")
	if err := os.WriteFile(idsFile, []byte("call_f1\n# skip\ncall_f2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		args    []string
		chain   string
		last    int
		ids     []string
		wantErr string
	}{
		{name: "chain first", args: []string{"voice", "--last", "5"}, chain: "voice", last: 5},
		{name: "chain last", args: []string{"--last", "3", "voice"}, chain: "voice", last: 3},
		{name: "repeated ids", args: []string{"voice", "--id", "call_a", "--id", "call_b,call_c"}, chain: "voice", ids: []string{"call_a", "call_b", "call_c"}},
		{name: "ids file", args: []string{"voice", "--id", "call_a", "--ids-file", idsFile}, chain: "voice", ids: []string{"call_a", "call_f1", "call_f2"}},
		{name: "no chain", args: []string{"--last", "1"}, wantErr: "missing chain name"},
		{name: "last with ids", args: []string{"voice", "--last", "1", "--id", "x"}, wantErr: "cannot be combined"},
		{name: "negative last", args: []string{"voice", "--last", "-1"}, wantErr: "must be positive"},
		{name: "extra argument", args: []string{"voice", "sms"}, wantErr: "unexpected argument"},
		{name: "missing ids file", args: []string{"voice", "--ids-file", "/nonexistent/ids.txt"}, wantErr: "--ids-file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := parseArgs(tt.args, &bytes.Buffer{})
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseArgs: %v", err)
			}
			if opts.chain != tt.chain || opts.selector.Last != tt.last {
				t.Errorf("opts = %+v", opts)
			}
			if len(tt.ids) > 0 && !reflect.DeepEqual([]string(opts.selector.IDs), tt.ids) {
				t.Errorf("ids = %v, want %v", opts.selector.IDs, tt.ids)
			}
		})
	}
}

func TestRun_HelpAndUsageErrors(t *testing.T) {
	var stderr bytes.Buffer
	if _, err := parseArgs([]string{"-h"}, &stderr); !errors.Is(err, flag.ErrHelp) {
		t.Errorf("err = %v, want flag.ErrHelp", err)
	}
	if !strings.Contains(stderr.String(), "usage: runchain") {
		t.Errorf("help output = %q", stderr.String())
	}

	if code := run([]string{"-h"}, strings.NewReader(""), &bytes.Buffer{}); code != 0 {
		t.Errorf("help exit = %d", code)
	}
	stderr.Reset()
	if code := run(nil, strings.NewReader(""), &stderr); code != 1 {
		t.Errorf("missing chain exit = %d", code)
	}
	if !strings.Contains(stderr.String(), "runchain: missing chain name") {
		t.Errorf("stderr = %q", stderr.String())
	}
}
