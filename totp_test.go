package authcore

import (
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestTOTPVerifyRFCVectorsSHA1(t *testing.T) {
	m := newTOTPManager(TwoFactorConfig{
		Issuer:    "SiteBook",
		Digits:    8,
		Period:    30,
		Algorithm: "SHA1",
		Skew:      0,
	})
	secret := []byte("12345678901234567890")
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "94287082"},
		{1111111109, "07081804"},
		{1111111111, "14050471"},
		{1234567890, "89005924"},
		{2000000000, "69279037"},
		{20000000000, "65353130"},
	}

	for _, tc := range cases {
		ok, counter, err := m.VerifyCode(secret, tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("SHA1 vector failed at t=%d, ok=%v err=%v", tc.ts, ok, err)
		}
		if counter != tc.ts/30 {
			t.Fatalf("expected counter %d, got %d", tc.ts/30, counter)
		}
	}
}

func TestTOTPVerifyRFCVectorsSHA256(t *testing.T) {
	m := newTOTPManager(TwoFactorConfig{
		Issuer:    "SiteBook",
		Digits:    8,
		Period:    30,
		Algorithm: "SHA256",
	})
	secret := []byte("12345678901234567890123456789012")
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "46119246"},
		{1111111109, "68084774"},
		{1234567890, "91819424"},
		{20000000000, "77737706"},
	}

	for _, tc := range cases {
		ok, _, err := m.VerifyCode(secret, tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("SHA256 vector failed at t=%d, ok=%v err=%v", tc.ts, ok, err)
		}
	}
}

func TestTOTPVerifyRFCVectorsSHA512(t *testing.T) {
	m := newTOTPManager(TwoFactorConfig{
		Issuer:    "SiteBook",
		Digits:    8,
		Period:    30,
		Algorithm: "SHA512",
	})
	secret := []byte("1234567890123456789012345678901234567890123456789012345678901234")
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "90693936"},
		{1111111111, "99943326"},
		{2000000000, "38618901"},
	}

	for _, tc := range cases {
		ok, _, err := m.VerifyCode(secret, tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("SHA512 vector failed at t=%d, ok=%v err=%v", tc.ts, ok, err)
		}
	}
}

func TestTOTPSkewWindow(t *testing.T) {
	m := newTOTPManager(DefaultConfig().TwoFactor)
	secret := []byte("12345678901234567890")
	now := time.Unix(1234567890, 0)
	base := now.Unix() / 30

	prev, err := hotpCode(secret, base-1, 6, "SHA1")
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}
	ok, counter, err := m.VerifyCode(secret, prev, now)
	if err != nil || !ok {
		t.Fatalf("expected previous step accepted, ok=%v err=%v", ok, err)
	}
	if counter != base-1 {
		t.Fatalf("expected counter %d, got %d", base-1, counter)
	}

	old, err := hotpCode(secret, base-2, 6, "SHA1")
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}
	if ok, _, _ := m.VerifyCode(secret, old, now); ok {
		t.Fatal("expected code two steps back to be rejected")
	}
}

func TestTOTPWrongShapeRejected(t *testing.T) {
	m := newTOTPManager(DefaultConfig().TwoFactor)
	secret := []byte("12345678901234567890")

	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		ok, _, err := m.VerifyCode(secret, code, time.Now())
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", code, err)
		}
		if ok {
			t.Fatalf("expected %q to be rejected", code)
		}
	}
}

func TestTOTPSecretRoundTrip(t *testing.T) {
	m := newTOTPManager(DefaultConfig().TwoFactor)
	secret, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	if strings.Contains(secret, "=") {
		t.Fatalf("secret must be unpadded, got %q", secret)
	}
	raw, err := decodeTOTPSecret(strings.ToLower(secret))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(raw) != totpSecretBytes {
		t.Fatalf("expected %d bytes, got %d", totpSecretBytes, len(raw))
	}
}

func TestTOTPProvisionURI(t *testing.T) {
	m := newTOTPManager(DefaultConfig().TwoFactor)
	uri := m.ProvisionURI("JBSWY3DPEHPK3PXP", "ana@example.com")

	parsed, err := url.Parse(uri)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed.Scheme != "otpauth" || parsed.Host != "totp" {
		t.Fatalf("unexpected uri %q", uri)
	}
	q := parsed.Query()
	if q.Get("secret") != "JBSWY3DPEHPK3PXP" || q.Get("issuer") != "SiteBook" {
		t.Fatalf("unexpected query %v", q)
	}
	if q.Get("digits") != "6" || q.Get("period") != "30" || q.Get("algorithm") != "SHA1" {
		t.Fatalf("unexpected parameters %v", q)
	}
	if !strings.Contains(parsed.Path, "SiteBook:ana@example.com") {
		t.Fatalf("unexpected label %q", parsed.Path)
	}
}
