package session

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestCompStreamRoundTrip(t *testing.T) {
	client, server := newStreamPair()

	payload := bytes.Repeat([]byte("compress me please, over and over again"), 500)

	done := make(chan error, 1)
	go func() {
		cs := NewCompStream(server)
		defer cs.Close()
		got := make([]byte, len(payload))
		_, err := io.ReadFull(cs, got)
		if err == nil && !bytes.Equal(got, payload) {
			err = errors.New("round-tripped payload did not match")
		}
		done <- err
	}()

	cs := NewCompStream(client)
	if _, err := cs.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	cs.Close()

	if err := <-done; err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
}
