package main

import (
	"bytes"
	"context"
	"testing"
)

func TestRunDispatchesUnknownCommand(t *testing.T) {
	var errOut bytes.Buffer
	r := NewRunner(nil, &discardWriter{}, &errOut)
	if code := r.Run(context.Background(), []string{"bogus"}); code != 2 {
		t.Fatalf("expected exit 2 for unknown command, got %d", code)
	}
	if errOut.Len() == 0 {
		t.Fatal("expected an error message on stderr")
	}
}

func TestRunDispatchesHelp(t *testing.T) {
	r := NewRunner(nil, &discardWriter{}, &discardWriter{})
	if code := r.Run(context.Background(), []string{"--help"}); code != 0 {
		t.Fatalf("expected exit 0 for --help, got %d", code)
	}
}
