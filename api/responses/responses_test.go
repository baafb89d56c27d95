package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	pkgerrors "github.com/angelmondragon/otcsettle/pkg/errors"
	"github.com/angelmondragon/otcsettle/pkg/logger"
)

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]string{"hello": "world"})

	if got := w.Code; got != http.StatusOK {
		t.Fatalf("expected status 200 but got %d", got)
	}
	var body SuccessEnvelope
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode success envelope: %v", err)
	}
	if body.Data.(map[string]any)["hello"] != "world" {
		t.Fatalf("unexpected payload %v", body.Data)
	}
}

func TestWriteErrorMapsTypedError(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
		details bool
	}{
		{
			name:    "amount out of range keeps message and details",
			err:     pkgerrors.New(pkgerrors.CodeAmountOutOfRange, "amount below minimum 100").WithDetails(map[string]string{"min": "100"}),
			status:  http.StatusBadRequest,
			message: "amount below minimum 100",
			details: true,
		},
		{
			name:    "no rate hides internal message",
			err:     pkgerrors.Wrap(pkgerrors.CodeNoRateAvailable, errors.New("dial tcp"), "venue unreachable"),
			status:  http.StatusServiceUnavailable,
			message: "rate unavailable, try again",
		},
		{
			name:    "self confirmation",
			err:     pkgerrors.New(pkgerrors.CodeSelfConfirmation, "creator"),
			status:  http.StatusForbidden,
			message: "an address must be confirmed by someone other than its creator",
		},
		{
			name:    "untyped error is internal",
			err:     errors.New("boom"),
			status:  http.StatusInternalServerError,
			message: "internal server error",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(context.Background(), logger.Nop(), w, tc.err)
			if w.Code != tc.status {
				t.Fatalf("expected status %d but got %d", tc.status, w.Code)
			}
			var body ErrorEnvelope
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode error envelope: %v", err)
			}
			if body.Error.Message != tc.message {
				t.Fatalf("unexpected message %q", body.Error.Message)
			}
			if (body.Error.Details != nil) != tc.details {
				t.Fatalf("details presence mismatch: %v", body.Error.Details)
			}
		})
	}
}
