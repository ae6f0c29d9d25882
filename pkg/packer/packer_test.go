package packer_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/poltergeist/packer-driver/pkg/packer"
)

func TestBuildError(t *testing.T) {
	cause := errors.New("unexpected token")

	tests := []struct {
		name     string
		err      error
		wantMsg  string
		wantFile string
		wantOK   bool
	}{
		{
			name:     "with file",
			err:      &packer.BuildError{File: "/p/assets/a.ts", Err: cause},
			wantMsg:  "/p/assets/a.ts: unexpected token",
			wantFile: "/p/assets/a.ts",
			wantOK:   true,
		},
		{
			name:    "without file",
			err:     &packer.BuildError{Err: cause},
			wantMsg: "unexpected token",
		},
		{
			name:     "wrapped",
			err:      fmt.Errorf("target editor: %w", &packer.BuildError{File: "b.ts", Err: cause}),
			wantMsg:  "target editor: b.ts: unexpected token",
			wantFile: "b.ts",
			wantOK:   true,
		},
		{
			name:    "plain error",
			err:     cause,
			wantMsg: "unexpected token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.wantMsg {
				t.Errorf("expected message %q, got %q", tt.wantMsg, tt.err.Error())
			}
			file, ok := packer.FailedFile(tt.err)
			if ok != tt.wantOK || file != tt.wantFile {
				t.Errorf("FailedFile = (%q, %v), want (%q, %v)", file, ok, tt.wantFile, tt.wantOK)
			}
			if !errors.Is(tt.err, cause) {
				t.Error("expected the cause to stay reachable")
			}
		})
	}
}
