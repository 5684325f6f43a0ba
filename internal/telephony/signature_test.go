package telephony

import (
	"errors"
	"testing"
	"time"
)

func TestVerifier(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	body := []byte(`{"type":"call.completed"}`)
	v := NewVerifier("whsec_test", 5*time.Minute).WithClock(func() time.Time { return now })

	tests := []struct {
		name    string
		header  string
		wantErr error
	}{
		{"Valid", Sign("whsec_test", now, body), nil},
		{"WithinTolerance", Sign("whsec_test", now.Add(-4*time.Minute), body), nil},
		{"Expired", Sign("whsec_test", now.Add(-10*time.Minute), body), ErrSignatureExpired},
		{"FromFuture", Sign("whsec_test", now.Add(10*time.Minute), body), ErrSignatureExpired},
		{"WrongSecret", Sign("other", now, body), ErrInvalidSignature},
		{"Malformed", "garbage", ErrInvalidSignature},
		{"Empty", "", ErrInvalidSignature},
		{"BadTimestamp", "t=abc,v0=00", ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.header, body)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("expected valid signature, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	t.Run("TamperedBody", func(t *testing.T) {
		header := Sign("whsec_test", now, body)
		if err := v.Verify(header, []byte(`{"type":"call.failed"}`)); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("expected ErrInvalidSignature, got %v", err)
		}
	})

	t.Run("RotatedSignatures", func(t *testing.T) {
		header := Sign("whsec_test", now, body) + ",v0=deadbeef"
		if err := v.Verify(header, body); err != nil {
			t.Errorf("expected one matching signature to pass, got %v", err)
		}
	})
}

func TestVerifierDisabled(t *testing.T) {
	v := NewVerifier("", time.Minute)
	if v.Enabled() {
		t.Error("verifier without secret should be disabled")
	}
	if err := v.Verify("", []byte("{}")); err != nil {
		t.Errorf("disabled verifier rejected request: %v", err)
	}
}
