package activitypub

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func staticKeyResolver(publicKeyPem string) ResolvePublicKeyFn {
	return func(ctx context.Context, keyID string) (*PublicKey, error) {
		return &PublicKey{ID: keyID, PublicKeyPem: publicKeyPem}, nil
	}
}

// Key of the live instance that produced the interop fixture below.
const misskeyFixturePublicKeyPem = "-----BEGIN PUBLIC KEY-----\nMIICIjANBgkqhkiG9w0BAQEFAAOCAg8AMIICCgKCAgEAu82gXsBVXXJTfqdB9ccL\nRCGtvYF7Xj4Jb8GkdokABiaQpMfv49nCfSpCmTKIEyaxlnStDasdNaK8pkUTUmjF\noUzMD4IrsDYFqHoO7I1q/9oBUn9OkxcpNl3fTXfTOjPuoqtdqe1Qck/9X5ptRcX4\nmMiO/DH/pJNUV0zwHvjH51D0YWD7N1/Mkkc/2O3FwCLHeFanxxdOa1MMLKU+zG4v\n/OEKmSNg6M0avLUPk9EKe0rYPltrM8q+dAg37r4FMf88CCDJexpSv+ix/KsXy7HO\ngAzvnY8ptb+COeGSIoL1BGFMeRf+c9DGCjwPJ0sqkcfB0ravZGt4fRg2RsHgj57/\necpnRxnyS8Zcir12Y8QQ3DEr7jA+QfHKUooCqSOz26Q7bNJdk/0Ay35DpPrbCrWN\nqobQV3mUtcMWEE6xaWHm+fmLMxXSdbfcXvgH93yjUqetqLQYADzQlIClYvo94lYs\n0jPkjRRyXqt9bqk2rJiGMFDPG2dgh8V0DAbL4DfCDtFGkzdzbMFvHmWgyIa0TaO2\nwRZXCtfn9+TItD7DZziEjmsfC5NnTe2dQPM9Sk8qb44P179GqbGO8PHbETpq79X7\nkOvE6TUkZMiSvlw59UuH9uQxST93R1YWNrmeBUEw4I7SpZwpRDwxl9MeMt5MHGld\nMdBi6Jr00O+JlnRpOMaAe4ECAwEAAQ==\n-----END PUBLIC KEY-----\n"

func TestComputeDigest(t *testing.T) {
	// echo -n '{"hello":"world"}' | sha256sum | xxd -r -p | base64
	digest := ComputeDigest([]byte(`{"hello":"world"}`))
	if digest != "k6I5cakU5erL8KjSUVTNownDwccvu5kU1Hxg88toFYg=" {
		t.Errorf("unexpected digest: %s", digest)
	}
}

func TestBuildSignatureBaseString(t *testing.T) {
	base := BuildSignatureBaseString("POST", "/users/1/inbox", map[string]string{
		"Host":   "remote.example.com",
		"Date":   "Thu, 13 Jul 2023 12:26:59 GMT",
		"Digest": "SHA-256=abc",
	}, DefaultSignedHeaders)

	want := "(request-target): post /users/1/inbox\n" +
		"host: remote.example.com\n" +
		"date: Thu, 13 Jul 2023 12:26:59 GMT\n" +
		"digest: SHA-256=abc"
	if base != want {
		t.Errorf("base string mismatch:\ngot:  %q\nwant: %q", base, want)
	}
}

func TestParseSignatureHeader(t *testing.T) {
	fields := ParseSignatureHeader(`keyId="https://example.com/users/1",algorithm="rsa-sha256",headers="(request-target) host date digest",signature="abc"`)

	want := map[string]string{
		"keyId":     "https://example.com/users/1",
		"algorithm": "rsa-sha256",
		"headers":   "(request-target) host date digest",
		"signature": "abc",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("field %s = %q, want %q", k, fields[k], v)
		}
	}
}

func TestSignHeaders(t *testing.T) {
	keys, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	privateKey, err := ParsePrivateKey(keys.Private)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}

	now := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	body := []byte(`{"hello":"world"}`)
	headers, err := SignHeaders("POST", "https://remote.example.com/inbox", body, "https://example.com/users/1#main-key", privateKey, now)
	if err != nil {
		t.Fatalf("SignHeaders: %v", err)
	}

	if headers["Host"] != "remote.example.com" {
		t.Errorf("Host = %q", headers["Host"])
	}
	if headers["Date"] != "Fri, 01 Jan 2021 00:00:00 GMT" {
		t.Errorf("Date = %q", headers["Date"])
	}
	if headers["Digest"] != "SHA-256=k6I5cakU5erL8KjSUVTNownDwccvu5kU1Hxg88toFYg=" {
		t.Errorf("Digest = %q", headers["Digest"])
	}
	sig := ParseSignatureHeader(headers["Signature"])
	if sig["keyId"] != "https://example.com/users/1#main-key" {
		t.Errorf("keyId = %q", sig["keyId"])
	}
	if sig["algorithm"] != "rsa-sha256" {
		t.Errorf("algorithm = %q", sig["algorithm"])
	}
	if sig["headers"] != "(request-target) host date digest" {
		t.Errorf("headers = %q", sig["headers"])
	}
	if sig["signature"] == "" {
		t.Error("signature is empty")
	}
}

func signedTestHeaders(t *testing.T, body []byte) (*KeyPair, map[string]string) {
	t.Helper()
	keys, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	privateKey, err := ParsePrivateKey(keys.Private)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	headers, err := SignHeaders("POST", "https://remote.example.com/inbox", body, "https://example.com/users/1#main-key", privateKey, time.Now())
	if err != nil {
		t.Fatalf("SignHeaders: %v", err)
	}
	return keys, headers
}

func TestVerifyRequestRoundTrip(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	keys, headers := signedTestHeaders(t, body)

	req := httptest.NewRequest("POST", "https://remote.example.com/inbox", bytes.NewReader(body))
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	req.Host = headers["Host"]

	resolve := staticKeyResolver(keys.Public)
	if err := VerifyRequest(req, resolve); err != nil {
		t.Errorf("VerifyRequest: %v", err)
	}
}

func TestVerifyRequestTamperedHeader(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	keys, headers := signedTestHeaders(t, body)

	req := httptest.NewRequest("POST", "https://remote.example.com/inbox", bytes.NewReader(body))
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	req.Host = headers["Host"]
	// a different body means a different digest
	req.Header.Set("Digest", "SHA-256="+ComputeDigest([]byte(`{"hello":"tampered"}`)))

	err := VerifyRequest(req, staticKeyResolver(keys.Public))
	if err == nil {
		t.Fatal("expected verification failure")
	}
	var sigErr *SignatureError
	if !errors.As(err, &sigErr) {
		t.Errorf("expected SignatureError, got %T: %v", err, err)
	}
}

func TestVerifyRequestMissingSignature(t *testing.T) {
	req := httptest.NewRequest("POST", "https://remote.example.com/inbox", strings.NewReader("{}"))
	err := VerifyRequest(req, staticKeyResolver(""))
	if err == nil {
		t.Fatal("expected error for missing Signature header")
	}
}

func TestVerifyRequestMissingKeyId(t *testing.T) {
	req := httptest.NewRequest("POST", "https://remote.example.com/inbox", strings.NewReader("{}"))
	req.Header.Set("Signature", `algorithm="rsa-sha256",headers="(request-target) host date digest",signature="abc"`)
	err := VerifyRequest(req, staticKeyResolver(""))
	if err == nil {
		t.Fatal("expected error for missing keyId")
	}
}

// Captured from a live exchange with misskey.io; verifies that the
// base string construction matches what large fediverse servers
// actually check.
func TestVerifyRequestMisskeyInterop(t *testing.T) {
	req := httptest.NewRequest("POST", "https://misskey.io/users/9bdgn9zxoi/inbox", nil)
	req.Host = "misskey.io"
	req.Header.Set("Host", "misskey.io")
	req.Header.Set("Date", "Thu, 13 Jul 2023 12:26:59 GMT")
	req.Header.Set("Digest", "SHA-256=pK20diGAwwwlT3/kZsXnHGYDX1FEPDqTi4htwA81fcA=")
	req.Header.Set("Signature", `keyId="https://minidon-debug-alice.lacolaco.workers.dev/u/alice",algorithm="rsa-sha256",headers="(request-target) host date digest",signature="VCyeH2WRX2D3i8c8zCxFYx7q9T8U8ZuD150fAn3O39oTZSj1n5LufEr/PU+DdWO3uAy+zZcGeeJd0ksCVzbQyOjJhuwN32zy2HOjFULLmm2rjA3cZbAnAn6bMEloy9MzxDEvLMdkF/vCIoPLIOtooSMM86S4O8suXvuwXPi9MbV2b+DPunNv4RjZxTSprlV4w2b/XM+IVFFbLcqpRk33QMH3rKXe+XEXPc/SoaCb3A0p+G7hY72Sfqtwt03aE6MOK+56PWZDftQn8trYxC+hcaj+ii0UZrU3QQSow9Y/La2PEg5Su9XTSsxFsbaM45oV+tgrrchuMP4XJDRB3uZa70zKeX6OcqU0csK1zfI9w7sr4fY+eun4YE2kDt8spG8tp8qk8pXtU1z39Kjy24bOleq5I1LgU0Ua9OMnyoTQjnsuupdK6lxeblzZmxPvC3oEzouEDH7EH3NeSNie5jkRQeya9U3cbBgYThYP+u+RMqO7sHhjUSmwU7653XV8cHBMd7PxHJFq4sfxvmnvtryHw9cpzkAST2ZgupvL9RKB4WdK1XaMrXv+OVxiyk4L+A/m/pe35oN1R01Q6D+21dlnIB6HlikkHU/R3ycdll6mmqrGRt/jrKn+4GWuukgclq9N2q4Zvmz7V+nxz6ezk/M8sV8KwM4eV9lnv3Af8FP5cv0="`)

	if err := VerifyRequest(req, staticKeyResolver(misskeyFixturePublicKeyPem)); err != nil {
		t.Errorf("VerifyRequest: %v", err)
	}
}
