package telephony

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Signature headers accepted on the webhook.
const (
	SignatureHeader         = "Kite-Voice-Signature"
	ProviderSignatureHeader = "ElevenLabs-Signature"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrSignatureExpired = fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
)

// Verifier checks t=<unix>,v0=<hex> HMAC-SHA256 signatures over "<t>.<body>".
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier creates a verifier. An empty secret disables verification.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// WithClock replaces the time source.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Enabled reports whether a secret is configured.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Verify checks header against body.
func (v *Verifier) Verify(header string, body []byte) error {
	if !v.Enabled() {
		return nil
	}

	ts, signatures, err := parseSignature(header)
	if err != nil {
		return ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if v.tolerance > 0 {
		age := v.now().Sub(time.Unix(unix, 0))
		if age > v.tolerance || age < -v.tolerance {
			return ErrSignatureExpired
		}
	}

	expected := sign(v.secret, ts, body)
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// Sign builds a signature header value for body at time at.
func Sign(secret string, at time.Time, body []byte) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v0=" + sign([]byte(secret), ts, body)
}

func sign(secret []byte, ts string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(ts))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignature(header string) (string, []string, error) {
	var ts string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			ts = strings.TrimSpace(value)
		case "v0":
			signatures = append(signatures, strings.TrimSpace(value))
		}
	}
	if ts == "" || len(signatures) == 0 {
		return "", nil, errors.New("malformed signature header")
	}
	return ts, signatures, nil
}
