package chat

import (
	"errors"
	"strings"
	"testing"

	"github.com/linkhub/realtime/internal/errs"
)

func TestSortPairOrdersDeterministically(t *testing.T) {
	a1, b1, err := SortPair("zoe", "adam")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a2, b2, err := SortPair("adam", "zoe")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a1 != a2 || b1 != b2 {
		t.Fatalf("pair must be order independent: (%s,%s) vs (%s,%s)", a1, b1, a2, b2)
	}
	if a1 != "adam" || b1 != "zoe" {
		t.Fatalf("expected (adam, zoe), got (%s, %s)", a1, b1)
	}
}

func TestSortPairRejectsSelfChat(t *testing.T) {
	_, _, err := SortPair("adam", "adam")
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSortPairRejectsBlankIDs(t *testing.T) {
	if _, _, err := SortPair("", "adam"); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error for blank id, got %v", err)
	}
}

func TestHasParticipantAndOther(t *testing.T) {
	c := &Chat{ParticipantA: "adam", ParticipantB: "zoe"}

	if !c.HasParticipant("adam") || !c.HasParticipant("zoe") {
		t.Error("both participants should be members")
	}
	if c.HasParticipant("mallory") {
		t.Error("non-member should not be a participant")
	}
	if got := c.OtherParticipant("adam"); got != "zoe" {
		t.Errorf("expected zoe, got %q", got)
	}
	if got := c.OtherParticipant("mallory"); got != "" {
		t.Errorf("expected empty for non-member, got %q", got)
	}
}

func TestValidateContent(t *testing.T) {
	if err := ValidateContent("hello"); err != nil {
		t.Errorf("plain text should pass: %v", err)
	}
	if err := ValidateContent(""); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("empty content should fail validation, got %v", err)
	}
	if err := ValidateContent(strings.Repeat("x", MaxMessageBytes+1)); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("oversized content should fail validation, got %v", err)
	}
	if err := ValidateContent(string([]byte{0xff, 0xfe})); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("invalid UTF-8 should fail validation, got %v", err)
	}
}
