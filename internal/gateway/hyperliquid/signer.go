package hyperliquid

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Signer produces EIP-712 signatures over exchange actions. The venue
// verifies against an Agent struct whose connectionId commits to the
// serialized action and the request nonce.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

func NewSigner(privateKeyHex string) (*Signer, error) {
	if len(privateKeyHex) >= 2 && privateKeyHex[:2] == "0x" {
		privateKeyHex = privateKeyHex[2:]
	}
	priv, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return &Signer{
		privateKey: priv,
		address:    crypto.PubkeyToAddress(priv.PublicKey),
		chainID:    big.NewInt(1337),
	}, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

// SignAction hashes the action with its nonce into a connectionId and
// signs the resulting Agent typed data. Returns r, s, v for the wire.
func (s *Signer) SignAction(action any, nonce uint64) (*RSV, error) {
	connectionID, err := actionHash(action, nonce)
	if err != nil {
		return nil, fmt.Errorf("hash action: %w", err)
	}

	digest, err := s.agentDigest(connectionID)
	if err != nil {
		return nil, fmt.Errorf("agent digest: %w", err)
	}

	sig, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}

	return &RSV{
		R: "0x" + hex.EncodeToString(sig[:32]),
		S: "0x" + hex.EncodeToString(sig[32:64]),
		V: int(sig[64]) + 27,
	}, nil
}

type RSV struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

func actionHash(action any, nonce uint64) ([]byte, error) {
	data, err := json.Marshal(action)
	if err != nil {
		return nil, err
	}

	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)

	payload := make([]byte, 0, len(data)+9)
	payload = append(payload, data...)
	payload = append(payload, nonceBytes[:]...)
	payload = append(payload, 0x00) // no vault address
	return crypto.Keccak256(payload), nil
}

func (s *Signer) agentDigest(connectionID []byte) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Agent": []apitypes.Type{
				{Name: "source", Type: "string"},
				{Name: "connectionId", Type: "bytes32"},
			},
		},
		PrimaryType: "Agent",
		Domain: apitypes.TypedDataDomain{
			Name:              "Exchange",
			Version:           "1",
			ChainId:           (*math.HexOrDecimal256)(s.chainID),
			VerifyingContract: common.Address{}.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"source":       "a",
			"connectionId": connectionID,
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hash message: %w", err)
	}

	raw := append([]byte{0x19, 0x01}, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256(raw), nil
}
