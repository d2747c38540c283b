package replay

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestReader_TryReset(t *testing.T) {
	const capacity = 16
	input := []byte("0123456789abcdefXYZ")

	tests := []struct {
		name    string
		read    int
		wantErr error
	}{
		{name: "nothing read", read: 0},
		{name: "partial read", read: 5},
		{name: "exactly capacity", read: capacity},
		{name: "capacity plus one", read: capacity + 1, wantErr: ErrReplayExceeded},
		{name: "whole stream", read: len(input), wantErr: ErrReplayExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(bytes.NewReader(input), capacity)
			got := make([]byte, tt.read)
			if _, err := io.ReadFull(r, got); err != nil {
				t.Fatalf("read: %v", err)
			}

			err := r.TryReset()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("TryReset() = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}

			all, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("read after reset: %v", err)
			}
			if !bytes.Equal(all, input) {
				t.Errorf("replayed %q, want %q", all, input)
			}
		})
	}
}

func TestReader_OneByteReads(t *testing.T) {
	r := New(iotest.OneByteReader(strings.NewReader("<root/>")), 8)

	first := make([]byte, 3)
	if _, err := io.ReadFull(r, first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := r.TryReset(); err != nil {
		t.Fatalf("TryReset: %v", err)
	}

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "<root/>" {
		t.Errorf("got %q, want %q", got, "<root/>")
	}
	if r.Len() != len("<root/>") {
		t.Errorf("Len() = %d, want %d", r.Len(), len("<root/>"))
	}
}

func TestReader_ResetTwice(t *testing.T) {
	r := New(strings.NewReader("hello world"), 64)

	for i := range 3 {
		got, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if string(got) != "hello world" {
			t.Fatalf("attempt %d: got %q", i, got)
		}
		if err := r.TryReset(); err != nil {
			t.Fatalf("attempt %d: TryReset: %v", i, err)
		}
	}
}

func TestReader_UnusableAfterFailedReset(t *testing.T) {
	r := New(strings.NewReader("abcdef"), 2)
	if _, err := io.ReadAll(r); err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !r.Exceeded() {
		t.Fatal("expected window to be exceeded")
	}

	if err := r.TryReset(); !errors.Is(err, ErrReplayExceeded) {
		t.Fatalf("TryReset() = %v, want ErrReplayExceeded", err)
	}
	if _, err := r.Read(make([]byte, 1)); !errors.Is(err, ErrReplayExceeded) {
		t.Errorf("Read() = %v, want ErrReplayExceeded", err)
	}
	if err := r.TryReset(); !errors.Is(err, ErrReplayExceeded) {
		t.Errorf("second TryReset() = %v, want ErrReplayExceeded", err)
	}
}

func TestNew_DefaultCapacity(t *testing.T) {
	r := New(strings.NewReader(""), 0)
	if r.Cap() != DefaultCapacity {
		t.Errorf("Cap() = %d, want %d", r.Cap(), DefaultCapacity)
	}
}
