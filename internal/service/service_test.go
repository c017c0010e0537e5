package service

import (
	"encoding/json"
	"testing"

	"github.com/bondly/bondly/internal/pairing"
)

func TestRejectCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{pairing.ErrAlreadySearching, "already_searching"},
		{pairing.ErrAlreadyInSession, "already_in_session"},
		{pairing.ErrNotSearching, "not_searching"},
		{pairing.ErrNoActiveSession, "no_active_session"},
		{&json.UnsupportedValueError{}, "internal"},
	}

	for _, tc := range cases {
		if got := rejectCode(tc.err); got != tc.want {
			t.Errorf("rejectCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestOtherSide(t *testing.T) {
	rec := &pairing.FinalRecord{UserA: 100, UserB: 200}

	if got := otherSide(rec, 100); got != 200 {
		t.Errorf("otherSide(rec, 100) = %d, want 200", got)
	}
	if got := otherSide(rec, 200); got != 100 {
		t.Errorf("otherSide(rec, 200) = %d, want 100", got)
	}
}

func TestSessionControl_JSONRoundTrip(t *testing.T) {
	cases := []SessionControl{
		{UserID: 42, Action: ActionRate, Positive: true},
		{UserID: 42, Action: ActionUnblock, TargetID: 77},
	}

	for _, original := range cases {
		data, err := json.Marshal(original)
		if err != nil {
			t.Fatalf("marshal %s: %v", original.Action, err)
		}

		var decoded SessionControl
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal %s: %v", original.Action, err)
		}

		if decoded != original {
			t.Errorf("round trip mismatch: got %+v, want %+v", decoded, original)
		}
	}
}
