package pacifica

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"

	"github.com/mr-tron/base58"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()

	seed := make([]byte, 64)
	if _, err := rand.Read(seed); err != nil {
		t.Fatal(err)
	}
	s, err := NewSigner("0xACCOUNT", "agent-pub", base58.Encode(seed))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCanonicalize_SortsKeysRecursively(t *testing.T) {
	input := map[string]any{
		"zebra": 1,
		"alpha": map[string]any{
			"nested_z": "v",
			"nested_a": []any{map[string]any{"b": 2, "a": 1}},
		},
	}

	got, err := Canonicalize(input)
	if err != nil {
		t.Fatal(err)
	}

	want := `{"alpha":{"nested_a":[{"a":1,"b":2}],"nested_z":"v"},"zebra":1}`
	if string(got) != want {
		t.Errorf("canonical form = %s, want %s", got, want)
	}
}

func TestCanonicalize_Idempotent(t *testing.T) {
	input := map[string]any{
		"symbol": "SOL",
		"price":  "139.713",
		"nested": map[string]any{"y": 1, "x": 2},
	}

	first, err := Canonicalize(input)
	if err != nil {
		t.Fatal(err)
	}

	// Re-canonicalizing the decoded canonical form is byte-identical.
	var decoded any
	if err := json.Unmarshal(first, &decoded); err != nil {
		t.Fatal(err)
	}
	second, err := Canonicalize(decoded)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(first, second) {
		t.Errorf("canonicalize not idempotent:\n%s\n%s", first, second)
	}
}

func TestCanonicalize_EqualObjectsEqualBytes(t *testing.T) {
	a := map[string]any{"b": 2, "a": 1, "c": map[string]any{"y": "s", "x": true}}
	b := map[string]any{"c": map[string]any{"x": true, "y": "s"}, "a": 1, "b": 2}

	ca, err := Canonicalize(a)
	if err != nil {
		t.Fatal(err)
	}
	cb, err := Canonicalize(b)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(ca, cb) {
		t.Errorf("semantically equal objects differ:\n%s\n%s", ca, cb)
	}
}

func TestCanonicalize_CompactOutput(t *testing.T) {
	got, err := Canonicalize(map[string]any{"a": []any{1, 2}, "b": "x y"})
	if err != nil {
		t.Fatal(err)
	}

	if bytes.ContainsAny(got, "\n\t") || bytes.Contains(got, []byte(": ")) || bytes.Contains(got, []byte(", ")) {
		t.Errorf("canonical output not compact: %s", got)
	}
}

func TestCanonicalize_PreservesNumberText(t *testing.T) {
	// Large ids and high-precision prices must not pass through float64.
	got, err := Canonicalize(map[string]any{"id": json.Number("9007199254740993"), "p": json.Number("139.7130001")})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"id":9007199254740993,"p":139.7130001}`
	if string(got) != want {
		t.Errorf("canonical form = %s, want %s", got, want)
	}
}

func TestSignOperation_VerifiesWithDerivedKey(t *testing.T) {
	seed := make([]byte, 64)
	if _, err := rand.Read(seed); err != nil {
		t.Fatal(err)
	}
	signer, err := NewSigner("0xACCOUNT", "agent-pub", base58.Encode(seed))
	if err != nil {
		t.Fatal(err)
	}

	now := time.UnixMilli(1700000000000)
	payload := map[string]any{"symbol": "SOL", "order_id": 42}

	header, err := signer.SignOperation("cancel_order", payload, now)
	if err != nil {
		t.Fatal(err)
	}

	if header.Timestamp != now.UnixMilli() {
		t.Errorf("timestamp = %d, want %d", header.Timestamp, now.UnixMilli())
	}
	if header.ExpiryWindow != 5000 {
		t.Errorf("expiry window = %d, want 5000", header.ExpiryWindow)
	}

	// Rebuild the signed envelope the way the venue does and verify.
	envelope := map[string]any{
		"type":          "cancel_order",
		"timestamp":     now.UnixMilli(),
		"expiry_window": 5000,
		"data":          payload,
	}
	canonical, err := Canonicalize(envelope)
	if err != nil {
		t.Fatal(err)
	}

	sig, err := base58.Decode(header.Signature)
	if err != nil {
		t.Fatalf("signature is not base58: %v", err)
	}

	priv := ed25519.NewKeyFromSeed(seed[:32])
	pub := priv.Public().(ed25519.PublicKey)
	if !ed25519.Verify(pub, canonical, sig) {
		t.Error("signature does not verify over the canonical envelope")
	}
}

func TestSignOperation_SensitiveToPayload(t *testing.T) {
	signer := testSigner(t)
	now := time.UnixMilli(1700000000000)

	h1, err := signer.SignOperation("create_order", map[string]any{"price": "1"}, now)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := signer.SignOperation("create_order", map[string]any{"price": "2"}, now)
	if err != nil {
		t.Fatal(err)
	}

	if h1.Signature == h2.Signature {
		t.Error("different payloads must yield different signatures")
	}
}

func TestNewSigner_RejectsShortSeed(t *testing.T) {
	if _, err := NewSigner("acct", "pub", base58.Encode([]byte("short"))); err == nil {
		t.Error("expected error for short seed")
	}
}
