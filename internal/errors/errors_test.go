package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestHasCodeThroughWrapChain(t *testing.T) {
	inner := New(CodeTimeout, "node slow")
	outer := Wrap(CodeStorageFailure, fmt.Errorf("persist: %w", inner), "save failed")

	if !HasCode(outer, CodeTimeout) || !HasCode(outer, CodeStorageFailure) {
		t.Fatalf("expected both codes in chain: %v", outer)
	}
	if HasCode(outer, CodeNotFound) {
		t.Fatalf("unexpected NOT_FOUND in chain")
	}
	if CodeOf(outer) != CodeStorageFailure {
		t.Fatalf("CodeOf must report the outermost code, got %s", CodeOf(outer))
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors map to UNKNOWN")
	}
}

func TestMetadataMergesOuterFirst(t *testing.T) {
	inner := New(CodeConflict, "taken", WithMetadata("reason", "duplicate"), WithMetadata("hash", "0xinner"))
	outer := Wrap(CodeInvalidArgument, inner, "rejected", WithMetadata("hash", "0xouter"))

	meta := MetadataOf(outer)
	if meta["reason"] != "duplicate" || meta["hash"] != "0xouter" {
		t.Fatalf("unexpected metadata: %v", meta)
	}
	meta["reason"] = "mutated"
	if MetadataOf(outer)["reason"] != "duplicate" {
		t.Fatalf("metadata must be copied")
	}
	if MetadataOf(stdErrors.New("plain")) != nil {
		t.Fatalf("plain errors carry no metadata")
	}
}

func TestAttributeOverrides(t *testing.T) {
	err := New(CodeChainUnavailable, "")
	if err.Message() != "chain node unavailable" {
		t.Fatalf("default message not applied: %q", err.Message())
	}
	if !RetryableError(err) || !ShouldAlert(err) {
		t.Fatalf("chain unavailable must be retryable and alerting")
	}
	pinned := New(CodeChainUnavailable, "rejected", WithRetryable(false), WithSeverity(SeverityCritical))
	if RetryableError(pinned) || pinned.Severity() != SeverityCritical {
		t.Fatalf("overrides ignored: retryable=%v severity=%s", pinned.Retryable(), pinned.Severity())
	}
}

func TestRegisterAndUnknownFallback(t *testing.T) {
	const code Code = "TEST_ONLY_CODE"
	if AttributesOf(code) != AttributesOf(CodeUnknown) {
		t.Fatalf("unregistered codes fall back to UNKNOWN")
	}
	Register(code, Attributes{Message: "test", Severity: SeverityInfo, Retryable: true})
	if !New(code, "").Retryable() {
		t.Fatalf("registered attributes not applied")
	}
	found := false
	for _, c := range Registered() {
		found = found || c == code
	}
	if !found {
		t.Fatalf("Registered must list %s", code)
	}
}

func TestLogValueGroupsFields(t *testing.T) {
	err := Wrap(CodeStorageFailure, stdErrors.New("disk full"), "save job",
		WithMetadata("job_id", "j-1"), WithSeverity(SeverityWarning))

	got := map[string]string{}
	for _, attr := range err.LogValue().Group() {
		got[attr.Key] = attr.Value.String()
	}
	want := map[string]string{"code": "STORAGE_FAILURE", "message": "save job", "cause": "disk full", "job_id": "j-1"}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("log field %s = %q, want %q", k, got[k], v)
		}
	}
	if attr := err.Attributes(); attr.Severity != SeverityWarning || !attr.Retryable {
		t.Fatalf("unexpected attributes: %+v", attr)
	}
}
