package provider

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
)

// U2F raw message formats, FIDO U2F v1.2.

const (
	u2fVersion = "U2F_V2"

	clientDataTypeRegister = "navigator.id.finishEnrollment"
	clientDataTypeSign     = "navigator.id.getAssertion"

	pubKeyLen = 65 // uncompressed P-256 point, 0x04 prefix
)

// registerResponse is the JSON a client hands back after the token
// creates a key pair.
type registerResponse struct {
	Version          string `json:"version"`
	RegistrationData string `json:"registrationData"`
	ClientData       string `json:"clientData"`
}

// signResponse is the JSON a client hands back after the token signs an
// authentication challenge.
type signResponse struct {
	KeyHandle     string `json:"keyHandle"`
	SignatureData string `json:"signatureData"`
	ClientData    string `json:"clientData"`
}

type clientData struct {
	Typ       string `json:"typ"`
	Challenge string `json:"challenge"`
	Origin    string `json:"origin"`
}

// parsedRegistration is the decoded registration payload.
type parsedRegistration struct {
	PubKey    []byte // 65-byte uncompressed point
	KeyHandle []byte
	CertDER   []byte
	Signature []byte // DER ECDSA
}

// parseRegistrationData splits the raw registration bytes:
// 0x05 | pubKey(65) | khLen(1) | keyHandle | attestation cert | signature.
func parseRegistrationData(data []byte) (parsedRegistration, error) {
	var p parsedRegistration

	if len(data) < 1+pubKeyLen+1 {
		return p, errors.New("registration data too short")
	}
	if data[0] != 0x05 {
		return p, fmt.Errorf("unexpected reserved byte 0x%02x", data[0])
	}
	data = data[1:]

	p.PubKey = data[:pubKeyLen]
	data = data[pubKeyLen:]

	khLen := int(data[0])
	data = data[1:]
	if len(data) < khLen {
		return p, errors.New("registration data truncated at key handle")
	}
	p.KeyHandle = data[:khLen]
	data = data[khLen:]

	// The certificate length lives inside its DER header; x509 parsing
	// of the remainder tells us where the signature starts.
	certLen, err := derCertificateLength(data)
	if err != nil {
		return p, err
	}
	p.CertDER = data[:certLen]
	p.Signature = data[certLen:]
	if len(p.Signature) == 0 {
		return p, errors.New("registration data missing signature")
	}
	return p, nil
}

// derCertificateLength reads the outer SEQUENCE header of a DER
// certificate and returns its total encoded length.
func derCertificateLength(data []byte) (int, error) {
	if len(data) < 4 || data[0] != 0x30 {
		return 0, errors.New("malformed attestation certificate")
	}

	var total int
	switch b := data[1]; {
	case b < 0x80:
		total = 2 + int(b)
	case b == 0x81:
		total = 3 + int(data[2])
	case b == 0x82:
		total = 4 + int(binary.BigEndian.Uint16(data[2:4]))
	default:
		return 0, errors.New("unsupported certificate length encoding")
	}
	if total > len(data) {
		return 0, errors.New("attestation certificate truncated")
	}
	return total, nil
}

// parsedSignature is the decoded authentication payload.
type parsedSignature struct {
	UserPresence byte
	Counter      uint32
	Signature    []byte // DER ECDSA
}

// parseSignatureData splits userPresence(1) | counter(4 BE) | sig.
func parseSignatureData(data []byte) (parsedSignature, error) {
	var p parsedSignature
	if len(data) < 6 {
		return p, errors.New("signature data too short")
	}
	p.UserPresence = data[0]
	p.Counter = binary.BigEndian.Uint32(data[1:5])
	p.Signature = data[5:]
	return p, nil
}

// verifyRegistrationSignature checks the attestation certificate's
// signature over 0x00 | appParam | challengeParam | keyHandle | pubKey.
func verifyRegistrationSignature(reg parsedRegistration, appParam, challengeParam [32]byte) error {
	cert, err := x509.ParseCertificate(reg.CertDER)
	if err != nil {
		return fmt.Errorf("parse attestation certificate: %w", err)
	}
	certPub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return errors.New("attestation certificate key is not ECDSA")
	}

	msg := make([]byte, 0, 1+32+32+len(reg.KeyHandle)+len(reg.PubKey))
	msg = append(msg, 0x00)
	msg = append(msg, appParam[:]...)
	msg = append(msg, challengeParam[:]...)
	msg = append(msg, reg.KeyHandle...)
	msg = append(msg, reg.PubKey...)

	digest := sha256.Sum256(msg)
	if !ecdsa.VerifyASN1(certPub, digest[:], reg.Signature) {
		return errors.New("attestation signature invalid")
	}
	return nil
}

// verifyAuthenticationSignature checks the token's signature over
// appParam | userPresence | counter | challengeParam using the stored
// public key.
func verifyAuthenticationSignature(pub *ecdsa.PublicKey, sig parsedSignature, appParam, challengeParam [32]byte) error {
	msg := make([]byte, 0, 32+1+4+32)
	msg = append(msg, appParam[:]...)
	msg = append(msg, sig.UserPresence)
	msg = binary.BigEndian.AppendUint32(msg, sig.Counter)
	msg = append(msg, challengeParam[:]...)

	digest := sha256.Sum256(msg)
	if !ecdsa.VerifyASN1(pub, digest[:], sig.Signature) {
		return errors.New("authentication signature invalid")
	}
	return nil
}

// decodePublicPoint turns a 65-byte uncompressed P-256 point into an
// ECDSA public key.
func decodePublicPoint(raw []byte) (*ecdsa.PublicKey, error) {
	if len(raw) != pubKeyLen || raw[0] != 0x04 {
		return nil, errors.New("malformed public key point")
	}
	x := new(big.Int).SetBytes(raw[1:33])
	y := new(big.Int).SetBytes(raw[33:65])
	if !elliptic.P256().IsOnCurve(x, y) {
		return nil, errors.New("public key not on P-256")
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

// decodeClientData decodes websafe-base64 client data and checks its
// type and embedded challenge.
func decodeClientData(raw, wantType, wantChallenge string) ([]byte, error) {
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode client data: %w", err)
	}

	var cd clientData
	if err := json.Unmarshal(data, &cd); err != nil {
		return nil, fmt.Errorf("parse client data: %w", err)
	}
	if cd.Typ != wantType {
		return nil, fmt.Errorf("unexpected client data type %q", cd.Typ)
	}
	if cd.Challenge != wantChallenge {
		return nil, errors.New("client data challenge mismatch")
	}
	return data, nil
}
