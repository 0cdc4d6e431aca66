package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestCodeOfAndFrom(t *testing.T) {
	err := New(CodeValidation, "bad windows")
	if CodeOf(err) != CodeValidation {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}

	wrapped := fmt.Errorf("outer: %w", err)
	extracted, ok := From(wrapped)
	if !ok {
		t.Fatal("expected to extract *Error from chain")
	}
	if extracted.Code() != CodeValidation {
		t.Fatalf("unexpected extracted code: %s", extracted.Code())
	}

	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatal("plain error should map to CodeUnknown")
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := Wrap(CodeServer, stdErrors.New("boom"), "")
	if !stdErrors.Is(err, New(CodeServer, "")) {
		t.Fatal("errors with the same code should match")
	}
	if stdErrors.Is(err, New(CodeAuth, "")) {
		t.Fatal("errors with different codes should not match")
	}
}

func TestDefaultAttributes(t *testing.T) {
	if !RetryableError(New(CodeServer, "")) {
		t.Fatal("server failures default to retryable")
	}
	if RetryableError(New(CodeClient, "")) {
		t.Fatal("client rejections are not retryable")
	}
	if SeverityOf(New(CodeValidation, "")) != SeverityInfo {
		t.Fatal("validation failures default to info severity")
	}
}

func TestOverrides(t *testing.T) {
	err := New(CodeServer, "", WithRetryable(false), WithSeverity(SeverityCritical))
	if err.Retryable() {
		t.Fatal("retryable override ignored")
	}
	if err.Severity() != SeverityCritical {
		t.Fatal("severity override ignored")
	}
}

func TestMetadata(t *testing.T) {
	err := New(CodeAuth, "", WithHTTPStatus(401), WithMetadata("request_id", "r-1"))
	meta := err.Metadata()
	if meta["http_status"] != "401" {
		t.Fatalf("missing http_status: %v", meta)
	}
	if meta["request_id"] != "r-1" {
		t.Fatalf("missing request_id: %v", meta)
	}

	// The returned map is a copy.
	meta["request_id"] = "mutated"
	if err.Metadata()["request_id"] != "r-1" {
		t.Fatal("metadata should not be mutable from outside")
	}
}

func TestEmptyMessageFallsBackToRegistry(t *testing.T) {
	err := New(CodeState, "")
	if err.Message() != AttributesOf(CodeState).Message {
		t.Fatalf("unexpected message: %s", err.Message())
	}
}

func TestWrapChainsCause(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := Wrap(CodeServer, cause, "perform request")
	if !stdErrors.Is(err, cause) {
		t.Fatal("cause should be reachable via errors.Is")
	}
}
