package pacifica

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/mr-tron/base58"
)

const (
	signatureType  = "agent"
	expiryWindowMs = 5000
)

// Signer produces Pacifica agent signatures: the operation payload is
// merged under a timestamped header, serialized canonically and signed
// with Ed25519. The venue re-canonicalizes on its side, so any deviation
// in key order or whitespace breaks verification.
type Signer struct {
	account string
	public  string
	priv    ed25519.PrivateKey
}

// NewSigner derives the Ed25519 key from the configured 64-byte seed
// (base58 or hex). Only the first 32 bytes seed the key; the remainder is
// the venue-issued public half.
func NewSigner(account, apiPublic, apiPrivate string) (*Signer, error) {
	seed, err := decodeSeed(apiPrivate)
	if err != nil {
		return nil, fmt.Errorf("decode api private key: %w", err)
	}
	if len(seed) < ed25519.SeedSize {
		return nil, fmt.Errorf("api private key too short: %d bytes", len(seed))
	}

	return &Signer{
		account: account,
		public:  apiPublic,
		priv:    ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize]),
	}, nil
}

func decodeSeed(s string) ([]byte, error) {
	if b, err := base58.Decode(s); err == nil && len(b) >= ed25519.SeedSize {
		return b, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("neither base58 nor hex: %w", err)
	}
	return b, nil
}

// SignOperation builds the signed envelope for one trading operation.
// Returns the header fields and the Base58 signature the REST and WS
// transports attach to the request.
func (s *Signer) SignOperation(opType string, payload any, now time.Time) (*SignedHeader, error) {
	header := map[string]any{
		"type":          opType,
		"timestamp":     now.UnixMilli(),
		"expiry_window": expiryWindowMs,
	}

	envelope := make(map[string]any, len(header)+1)
	for k, v := range header {
		envelope[k] = v
	}
	envelope["data"] = payload

	canonical, err := Canonicalize(envelope)
	if err != nil {
		return nil, fmt.Errorf("canonicalize envelope: %w", err)
	}

	sig := ed25519.Sign(s.priv, canonical)

	return &SignedHeader{
		Account:      s.account,
		AgentWallet:  s.public,
		Timestamp:    now.UnixMilli(),
		ExpiryWindow: expiryWindowMs,
		Signature:    base58.Encode(sig),
	}, nil
}

type SignedHeader struct {
	Account      string `json:"account"`
	AgentWallet  string `json:"agent_wallet"`
	Timestamp    int64  `json:"timestamp"`
	ExpiryWindow int64  `json:"expiry_window"`
	Signature    string `json:"signature"`
}

// Canonicalize serializes v deterministically: objects get recursively
// sorted keys, output is compact, and string escaping follows
// encoding/json. Two semantically equal values produce identical bytes.
func Canonicalize(v any) ([]byte, error) {
	// Round-trip through encoding/json first so struct values, numeric
	// types and json.RawMessage all collapse to the same generic form.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	case json.Number:
		buf.WriteString(val.String())
		return nil

	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}
