// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewFromBytesZeroesSource(t *testing.T) {
	source := []byte("correct horse")
	buffer, err := NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	if got := buffer.String(); got != "correct horse" {
		t.Errorf("buffer holds %q", got)
	}
	for index, value := range source {
		if value != 0 {
			t.Fatalf("source byte %d not zeroed", index)
		}
	}
}

func TestNewFromBytesEmpty(t *testing.T) {
	if _, err := NewFromBytes(nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("NewFromBytes(nil) = %v, want ErrEmpty", err)
	}
}

func TestNewRejectsNonPositiveSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := New(size); err == nil {
			t.Errorf("New(%d) succeeded", size)
		}
	}
}

func TestCloseIsIdempotentAndPanicsAfter(t *testing.T) {
	buffer, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if buffer.Len() != 0 {
		t.Errorf("Len after Close = %d", buffer.Len())
	}

	defer func() {
		if recover() == nil {
			t.Fatal("Bytes after Close did not panic")
		}
	}()
	buffer.Bytes()
}

func TestReadFromPath(t *testing.T) {
	directory := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    string
		wantErr error
	}{
		{name: "plain", content: "hunter2", want: "hunter2"},
		{name: "trailing newline", content: "hunter2\n", want: "hunter2"},
		{name: "surrounding space", content: "  hunter2 \t\n", want: "hunter2"},
		{name: "whitespace only", content: " \n\t", wantErr: ErrEmpty},
		{name: "empty", content: "", wantErr: ErrEmpty},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := filepath.Join(directory, strings.ReplaceAll(test.name, " ", "-"))
			if err := os.WriteFile(path, []byte(test.content), 0o600); err != nil {
				t.Fatalf("writing file: %v", err)
			}
			buffer, err := ReadFromPath(path)
			if test.wantErr != nil {
				if !errors.Is(err, test.wantErr) {
					t.Fatalf("ReadFromPath error = %v, want %v", err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadFromPath: %v", err)
			}
			defer buffer.Close()
			if got := buffer.String(); got != test.want {
				t.Errorf("ReadFromPath = %q, want %q", got, test.want)
			}
		})
	}
}

func TestReadFromPathMissing(t *testing.T) {
	if _, err := ReadFromPath(filepath.Join(t.TempDir(), "absent")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("ReadFromPath of missing file = %v", err)
	}
}

func TestFromEnvironment(t *testing.T) {
	t.Setenv("DOCSTORE_TEST_SECRET", " s3cret\n")

	buffer, err := FromEnvironment("DOCSTORE_TEST_SECRET")
	if err != nil {
		t.Fatalf("FromEnvironment: %v", err)
	}
	defer buffer.Close()
	if got := buffer.String(); got != "s3cret" {
		t.Errorf("FromEnvironment = %q", got)
	}
	if _, ok := os.LookupEnv("DOCSTORE_TEST_SECRET"); ok {
		t.Error("variable still set after FromEnvironment")
	}

	missing, err := FromEnvironment("DOCSTORE_TEST_SECRET_UNSET")
	if err != nil || missing != nil {
		t.Errorf("FromEnvironment of unset variable = %v, %v", missing, err)
	}
}
