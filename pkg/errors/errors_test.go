package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, detailsOK: true},
		{code: CodePermissionDenied, status: http.StatusForbidden},
		{code: CodeNotFound, status: http.StatusNotFound},
		{code: CodeInvalidTransition, status: http.StatusUnprocessableEntity, detailsOK: true},
		{code: CodeAmountOutOfRange, status: http.StatusBadRequest, detailsOK: true},
		{code: CodeInvalidExpression, status: http.StatusBadRequest, detailsOK: true},
		{code: CodeNoRateAvailable, status: http.StatusServiceUnavailable, retryable: true},
		{code: CodeSelfConfirmation, status: http.StatusForbidden},
		{code: CodeNoAgentAvailable, status: http.StatusServiceUnavailable, retryable: true},
		{code: CodeInternal, status: http.StatusInternalServerError, retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestPublicMessagesAreDistinct(t *testing.T) {
	seen := map[string]Code{}
	for code, meta := range metadataByCode {
		if prev, ok := seen[meta.PublicMessage]; ok {
			t.Fatalf("codes %s and %s share public message %q", prev, code, meta.PublicMessage)
		}
		seen[meta.PublicMessage] = code
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	base.WithDetails(map[string]any{"field": "foo"})
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeNoRateAvailable, cause, "fetch quotes")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeNoRateAvailable {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestCodeOfWalksWrappedChain(t *testing.T) {
	inner := New(CodeNoAgentAvailable, "pool empty")
	outer := fmt.Errorf("assign: %w", inner)

	if got := CodeOf(outer); got != CodeNoAgentAvailable {
		t.Fatalf("expected NO_AGENT_AVAILABLE, got %s", got)
	}
	if !Is(outer, CodeNoAgentAvailable) {
		t.Fatalf("Is should match wrapped code")
	}
	if Is(nil, CodeNoAgentAvailable) {
		t.Fatalf("nil error should not match")
	}
	if got := CodeOf(stdErrors.New("plain")); got != CodeInternal {
		t.Fatalf("plain errors should map to internal, got %s", got)
	}
}

func TestDumpCollectsChain(t *testing.T) {
	err := fmt.Errorf("outer: %w", Wrap(CodeDependency, stdErrors.New("socket closed"), "load rows"))
	dump := Dump(err)
	if dump.Code != CodeDependency {
		t.Fatalf("expected dependency code, got %s", dump.Code)
	}
	if len(dump.Chain) != 3 {
		t.Fatalf("expected three chain entries, got %d (%v)", len(dump.Chain), dump.Chain)
	}
	if fields := dump.Fields(); fields["error_code"] != CodeDependency {
		t.Fatalf("fields should carry error code, got %v", fields)
	}
}
