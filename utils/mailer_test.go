package utils

import (
	"errors"
	"testing"

	"vitalpath/engine"
)

func TestClassifySendError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"mailbox unavailable", errors.New("550 5.1.1 mailbox unavailable"), true},
		{"user not local", errors.New("551 user not local"), true},
		{"transaction failed", errors.New("554 transaction failed"), true},
		{"greylisted", errors.New("451 try again later"), false},
		{"connection refused", errors.New("dial tcp: connection refused"), false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := classifySendError("r@example.com", c.err)
			if engine.IsPermanentSendError(got) != c.permanent {
				t.Errorf("permanent = %v, want %v for %q", !c.permanent, c.permanent, c.err)
			}
		})
	}
}
