package vnpay

import (
	"strings"
	"testing"
)

func TestCanonicalQuery(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]string
		want   string
	}{
		{
			name:   "keys sorted",
			params: map[string]string{"vnp_TxnRef": "42", "vnp_Amount": "100", "vnp_Command": "pay"},
			want:   "vnp_Amount=100&vnp_Command=pay&vnp_TxnRef=42",
		},
		{
			name:   "empty values dropped",
			params: map[string]string{"vnp_Amount": "100", "vnp_OrderInfo": "", "vnp_Locale": "vn"},
			want:   "vnp_Amount=100&vnp_Locale=vn",
		},
		{
			name:   "values percent encoded",
			params: map[string]string{"vnp_OrderInfo": "booking 42", "vnp_ReturnUrl": "https://example.com/cb"},
			want:   "vnp_OrderInfo=booking+42&vnp_ReturnUrl=https%3A%2F%2Fexample.com%2Fcb",
		},
		{
			name:   "empty map",
			params: map[string]string{},
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := canonicalQuery(tt.params)
			if got != tt.want {
				t.Fatalf("canonicalQuery = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSignQuery_Deterministic(t *testing.T) {
	params := map[string]string{
		"vnp_Amount":  "100000",
		"vnp_TxnRef":  "12345",
		"vnp_Command": "pay",
	}

	q1, h1 := SignQuery(params, "secret")
	q2, h2 := SignQuery(params, "secret")

	if q1 != q2 || h1 != h2 {
		t.Fatalf("SignQuery must be deterministic: (%q, %q) vs (%q, %q)", q1, h1, q2, h2)
	}
	if len(h1) != 128 {
		t.Fatalf("hash length = %d, want 128 hex chars of SHA-512", len(h1))
	}
	if h1 != strings.ToLower(h1) {
		t.Fatalf("hash must be lowercase hex: %q", h1)
	}
}

func TestSignQuery_DifferentSecrets(t *testing.T) {
	params := map[string]string{"vnp_TxnRef": "1"}

	_, h1 := SignQuery(params, "secret-a")
	_, h2 := SignQuery(params, "secret-b")

	if h1 == h2 {
		t.Fatalf("different secrets must produce different signatures")
	}
}

func TestValidateSignature_RoundTrip(t *testing.T) {
	params := map[string]string{
		"vnp_Amount":       "100000",
		"vnp_TxnRef":       "12345",
		"vnp_ResponseCode": "00",
	}

	_, hash := SignQuery(params, "secret")

	if !ValidateSignature(params, hash, "secret") {
		t.Fatalf("signature must validate after signing with the same secret")
	}
	if !ValidateSignature(params, strings.ToUpper(hash), "secret") {
		t.Fatalf("signature comparison must be case-insensitive")
	}
	if ValidateSignature(params, hash, "other-secret") {
		t.Fatalf("signature must not validate with a different secret")
	}
}

func TestValidateSignature_TamperedValue(t *testing.T) {
	params := map[string]string{
		"vnp_Amount":       "100000",
		"vnp_TxnRef":       "12345",
		"vnp_ResponseCode": "00",
	}
	_, hash := SignQuery(params, "secret")

	params["vnp_Amount"] = "1"
	if ValidateSignature(params, hash, "secret") {
		t.Fatalf("tampered value must invalidate signature")
	}
}

func TestValidateSignature_HashFieldsExcluded(t *testing.T) {
	params := map[string]string{
		"vnp_Amount":       "100000",
		"vnp_TxnRef":       "12345",
		"vnp_ResponseCode": "00",
	}
	_, hash := SignQuery(params, "secret")

	// Поле подписи и её тип присутствуют в обратном вызове,
	// но в каноническую строку входить не должны.
	params[SecureHashKey] = hash
	params[secureHashTypeKey] = "HMACSHA512"

	if !ValidateSignature(params, hash, "secret") {
		t.Fatalf("hash fields must be excluded from the canonical string")
	}
}

func TestValidateSignature_EmptyHash(t *testing.T) {
	params := map[string]string{"vnp_TxnRef": "1"}
	if ValidateSignature(params, "", "secret") {
		t.Fatalf("empty signature must not validate")
	}
}
