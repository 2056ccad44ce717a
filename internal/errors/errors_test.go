package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestInvalidTransitionNamesPair(t *testing.T) {
	err := InvalidTransition("PUBLISHED", "DRAFT")
	if err.HTTPStatus != http.StatusConflict {
		t.Fatalf("unexpected status %d", err.HTTPStatus)
	}
	if err.Details["from"] != "PUBLISHED" || err.Details["to"] != "DRAFT" {
		t.Fatalf("pair missing from details: %v", err.Details)
	}
	if got := err.Error(); got != "INVALID_TRANSITION: transition PUBLISHED -> DRAFT is not allowed" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestGetServiceErrorThroughWrapping(t *testing.T) {
	base := VersionNotFound(7, []int{1, 2})
	wrapped := fmt.Errorf("restore: %w", base)

	got := GetServiceError(wrapped)
	if got == nil || got.Code != CodeVersionNotFound {
		t.Fatalf("expected version not found, got %v", got)
	}
	if !HasCode(wrapped, CodeVersionNotFound) {
		t.Fatalf("HasCode should see through wrapping")
	}
	if HasCode(stderrors.New("plain"), CodeInternal) {
		t.Fatalf("plain errors carry no code")
	}
}

func TestInternalUnwraps(t *testing.T) {
	cause := stderrors.New("db down")
	err := Internal("load session", cause)
	if !stderrors.Is(err, cause) {
		t.Fatalf("internal error should unwrap to cause")
	}
}

func TestNotReadyCarriesRemediation(t *testing.T) {
	err := NotReady([]string{"trainer_assigned"}, []string{"Assign a trainer to every topic"})
	actions, ok := err.Details["recommended_actions"].([]string)
	if !ok || len(actions) != 1 {
		t.Fatalf("expected recommended actions, got %v", err.Details)
	}
}
