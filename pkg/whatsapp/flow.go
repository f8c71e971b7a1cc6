package whatsapp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/aretw0/wadialog/pkg/domain"
	"github.com/youmark/pkcs8"
)

// gcmTagSize is the length of the authentication tag appended to Flow ciphertexts.
const gcmTagSize = 16

// Flow actions sent by the platform.
const (
	FlowActionPing         = "ping"
	FlowActionInit         = "INIT"
	FlowActionBack         = "BACK"
	FlowActionDataExchange = "data_exchange"
	FlowActionError        = "error"
)

// FlowRequest is the encrypted body posted to the Flow endpoint.
type FlowRequest struct {
	EncryptedFlowData string `json:"encrypted_flow_data"`
	EncryptedAESKey   string `json:"encrypted_aes_key"`
	InitialVector     string `json:"initial_vector"`
}

// FlowPayload is the decrypted content of a FlowRequest.
type FlowPayload struct {
	Version   string         `json:"version"`
	Action    string         `json:"action"`
	Screen    string         `json:"screen,omitempty"`
	FlowToken string         `json:"flow_token,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// IsClientError reports whether the client is notifying a failure instead of exchanging data.
func (p FlowPayload) IsClientError() bool {
	if p.Action == FlowActionError {
		return true
	}
	_, ok := p.Data["error"]
	return ok
}

// FlowExchange holds the key material recovered from one request.
// It is only valid for answering that request.
type FlowExchange struct {
	Payload FlowPayload

	key []byte
	iv  []byte
}

// FlowCrypto decrypts Flow requests with the business private key.
type FlowCrypto struct {
	key *rsa.PrivateKey
}

// NewFlowCrypto parses a PEM private key, decrypting it with passphrase when protected.
func NewFlowCrypto(pemBytes []byte, passphrase string) (*FlowCrypto, error) {
	key, err := ParsePrivateKey(pemBytes, passphrase)
	if err != nil {
		return nil, err
	}
	return &FlowCrypto{key: key}, nil
}

// NewFlowCryptoFromKey wraps an already parsed key.
func NewFlowCryptoFromKey(key *rsa.PrivateKey) *FlowCrypto {
	return &FlowCrypto{key: key}
}

// ParsePrivateKey reads an RSA key in PKCS#1, PKCS#8 or encrypted PKCS#8 PEM form.
// Legacy "Proc-Type: 4,ENCRYPTED" PKCS#1 blocks are also accepted.
func ParsePrivateKey(pemBytes []byte, passphrase string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found in private key")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		der := block.Bytes
		//nolint:staticcheck // legacy encrypted PEM is still produced by common tooling
		if x509.IsEncryptedPEMBlock(block) {
			var err error
			der, err = x509.DecryptPEMBlock(block, []byte(passphrase))
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt private key: %w", err)
			}
		}
		key, err := x509.ParsePKCS1PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#1 key: %w", err)
		}
		return key, nil

	case "PRIVATE KEY", "ENCRYPTED PRIVATE KEY":
		var password []byte
		if block.Type == "ENCRYPTED PRIVATE KEY" {
			if passphrase == "" {
				return nil, errors.New("private key is encrypted but no passphrase was given")
			}
			password = []byte(passphrase)
		}
		key, err := pkcs8.ParsePKCS8PrivateKeyRSA(block.Bytes, password)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#8 key: %w", err)
		}
		return key, nil
	}
	return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
}

// Decrypt unwraps the AES key and decrypts the request payload.
// Any failure to unwrap the key or authenticate the ciphertext yields a
// FlowError with FlowCodeKeyMismatch so the platform re-fetches the public key.
func (c *FlowCrypto) Decrypt(req FlowRequest) (*FlowExchange, error) {
	wrapped, err := base64.StdEncoding.DecodeString(req.EncryptedAESKey)
	if err != nil {
		return nil, &domain.FlowError{Code: domain.FlowCodeFailure, Msg: "invalid encrypted_aes_key encoding", Err: err}
	}
	iv, err := base64.StdEncoding.DecodeString(req.InitialVector)
	if err != nil || len(iv) == 0 {
		return nil, &domain.FlowError{Code: domain.FlowCodeFailure, Msg: "invalid initial_vector encoding", Err: err}
	}
	data, err := base64.StdEncoding.DecodeString(req.EncryptedFlowData)
	if err != nil {
		return nil, &domain.FlowError{Code: domain.FlowCodeFailure, Msg: "invalid encrypted_flow_data encoding", Err: err}
	}
	if len(data) < gcmTagSize {
		return nil, &domain.FlowError{Code: domain.FlowCodeFailure, Msg: "encrypted_flow_data shorter than the authentication tag"}
	}

	key, err := rsa.DecryptOAEP(sha256.New(), nil, c.key, wrapped, nil)
	if err != nil {
		return nil, &domain.FlowError{Code: domain.FlowCodeKeyMismatch, Msg: "failed to unwrap AES key", Err: err}
	}

	gcm, err := newGCM(key, len(iv))
	if err != nil {
		return nil, &domain.FlowError{Code: domain.FlowCodeKeyMismatch, Msg: "invalid AES key", Err: err}
	}

	// data is body||tag, the layout Open expects.
	plain, err := gcm.Open(nil, iv, data, nil)
	if err != nil {
		return nil, &domain.FlowError{Code: domain.FlowCodeKeyMismatch, Msg: "flow payload authentication failed", Err: err}
	}

	var payload FlowPayload
	if err := json.Unmarshal(plain, &payload); err != nil {
		return nil, &domain.FlowError{Code: domain.FlowCodeFailure, Msg: "decrypted payload is not valid JSON", Err: err}
	}

	return &FlowExchange{Payload: payload, key: key, iv: iv}, nil
}

// EncryptResponse JSON-encodes v and encrypts it for the platform under the
// flipped IV, returning the base64 body of the HTTP response.
func (x *FlowExchange) EncryptResponse(v any) (string, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return "", &domain.FlowError{Code: domain.FlowCodeFailure, Msg: "failed to marshal flow response", Err: err}
	}

	iv := FlipIV(x.iv)
	gcm, err := newGCM(x.key, len(iv))
	if err != nil {
		return "", &domain.FlowError{Code: domain.FlowCodeFailure, Msg: "failed to init cipher", Err: err}
	}
	return base64.StdEncoding.EncodeToString(gcm.Seal(nil, iv, plain, nil)), nil
}

// FlipIV returns a copy of iv with every byte inverted.
func FlipIV(iv []byte) []byte {
	out := make([]byte, len(iv))
	for i, b := range iv {
		out[i] = b ^ 0xFF
	}
	return out
}

func newGCM(key []byte, nonceSize int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, nonceSize)
}
