package provider

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authkit-dev/twostep/internal/twofactor/store/drivers/memory"
)

// fakeToken simulates a U2F hardware token well enough to produce valid
// registration and authentication responses.
type fakeToken struct {
	attestKey  *ecdsa.PrivateKey
	attestCert []byte
	deviceKey  *ecdsa.PrivateKey
	keyHandle  []byte
}

func newFakeToken(t *testing.T) *fakeToken {
	t.Helper()

	attestKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "Fake U2F Attestation"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &attestKey.PublicKey, attestKey)
	require.NoError(t, err)

	deviceKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	handle := make([]byte, 32)
	_, err = rand.Read(handle)
	require.NoError(t, err)

	return &fakeToken{
		attestKey:  attestKey,
		attestCert: certDER,
		deviceKey:  deviceKey,
		keyHandle:  handle,
	}
}

func (tok *fakeToken) publicPoint() []byte {
	buf := make([]byte, 65)
	buf[0] = 0x04
	tok.deviceKey.PublicKey.X.FillBytes(buf[1:33])
	tok.deviceKey.PublicKey.Y.FillBytes(buf[33:65])
	return buf
}

func (tok *fakeToken) handleB64() string {
	return base64.RawURLEncoding.EncodeToString(tok.keyHandle)
}

func u2fClientData(t *testing.T, typ, challenge string) (raw []byte, b64 string) {
	t.Helper()
	raw, err := json.Marshal(clientData{Typ: typ, Challenge: challenge, Origin: "https://example.com"})
	require.NoError(t, err)
	return raw, base64.RawURLEncoding.EncodeToString(raw)
}

// register produces the JSON a real client would return for a
// registration challenge.
func (tok *fakeToken) register(t *testing.T, challenge, appID string) string {
	t.Helper()

	cdRaw, cdB64 := u2fClientData(t, clientDataTypeRegister, challenge)
	appParam := sha256.Sum256([]byte(appID))
	challengeParam := sha256.Sum256(cdRaw)
	pub := tok.publicPoint()

	msg := []byte{0x00}
	msg = append(msg, appParam[:]...)
	msg = append(msg, challengeParam[:]...)
	msg = append(msg, tok.keyHandle...)
	msg = append(msg, pub...)
	digest := sha256.Sum256(msg)

	sig, err := ecdsa.SignASN1(rand.Reader, tok.attestKey, digest[:])
	require.NoError(t, err)

	regData := []byte{0x05}
	regData = append(regData, pub...)
	regData = append(regData, byte(len(tok.keyHandle)))
	regData = append(regData, tok.keyHandle...)
	regData = append(regData, tok.attestCert...)
	regData = append(regData, sig...)

	resp, err := json.Marshal(registerResponse{
		Version:          u2fVersion,
		RegistrationData: base64.RawURLEncoding.EncodeToString(regData),
		ClientData:       cdB64,
	})
	require.NoError(t, err)
	return string(resp)
}

// sign produces the JSON a real client would return for an
// authentication challenge at the given counter.
func (tok *fakeToken) sign(t *testing.T, challenge, appID string, counter uint32) string {
	t.Helper()

	cdRaw, cdB64 := u2fClientData(t, clientDataTypeSign, challenge)
	appParam := sha256.Sum256([]byte(appID))
	challengeParam := sha256.Sum256(cdRaw)

	msg := append([]byte{}, appParam[:]...)
	msg = append(msg, 0x01) // user presence
	msg = binary.BigEndian.AppendUint32(msg, counter)
	msg = append(msg, challengeParam[:]...)
	digest := sha256.Sum256(msg)

	sig, err := ecdsa.SignASN1(rand.Reader, tok.deviceKey, digest[:])
	require.NoError(t, err)

	sigData := []byte{0x01}
	sigData = binary.BigEndian.AppendUint32(sigData, counter)
	sigData = append(sigData, sig...)

	resp, err := json.Marshal(signResponse{
		KeyHandle:     tok.handleB64(),
		SignatureData: base64.RawURLEncoding.EncodeToString(sigData),
		ClientData:    cdB64,
	})
	require.NoError(t, err)
	return string(resp)
}

const testAppID = "https://example.com"

func registeredProvider(t *testing.T) (*SecurityKey, *fakeToken) {
	t.Helper()
	ctx := context.Background()

	p := NewSecurityKey(memory.New().Attributes(), testAppID, true)
	tok := newFakeToken(t)

	payload, err := p.StartRegistration(ctx, "u1")
	require.NoError(t, err)

	_, err = p.CompleteRegistration(ctx, "u1", tok.register(t, payload.Challenge, testAppID))
	require.NoError(t, err)
	return p, tok
}

func TestSecurityKey_Registration(t *testing.T) {
	ctx := t.Context()
	p := NewSecurityKey(memory.New().Attributes(), testAppID, true)
	tok := newFakeToken(t)

	ok, err := p.IsAvailable(ctx, "u1")
	require.NoError(t, err)
	require.False(t, ok)

	payload, err := p.StartRegistration(ctx, "u1")
	require.NoError(t, err)
	require.NotEmpty(t, payload.Challenge)
	require.Equal(t, testAppID, payload.AppID)
	require.Empty(t, payload.KeyHandles)

	record, err := p.CompleteRegistration(ctx, "u1", tok.register(t, payload.Challenge, testAppID))
	require.NoError(t, err)
	require.Equal(t, tok.handleB64(), record.Handle)
	require.Equal(t, "Security Key 1", record.Label)
	require.Zero(t, record.Counter)

	ok, err = p.IsAvailable(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)

	keys, err := p.Keys(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
}

func TestSecurityKey_RegistrationBadSignature(t *testing.T) {
	ctx := t.Context()
	p := NewSecurityKey(memory.New().Attributes(), testAppID, true)
	tok := newFakeToken(t)

	payload, err := p.StartRegistration(ctx, "u1")
	require.NoError(t, err)

	// Signing for a different app invalidates the attestation.
	_, err = p.CompleteRegistration(ctx, "u1", tok.register(t, payload.Challenge, "https://evil.example"))
	require.ErrorIs(t, err, ErrRegistrationFailed)

	keys, err := p.Keys(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestSecurityKey_RegistrationChallengeSingleUse(t *testing.T) {
	ctx := t.Context()
	p := NewSecurityKey(memory.New().Attributes(), testAppID, true)
	tok := newFakeToken(t)

	payload, err := p.StartRegistration(ctx, "u1")
	require.NoError(t, err)

	// A garbage attempt consumes the pending challenge.
	_, err = p.CompleteRegistration(ctx, "u1", "not json")
	require.ErrorIs(t, err, ErrRegistrationFailed)

	_, err = p.CompleteRegistration(ctx, "u1", tok.register(t, payload.Challenge, testAppID))
	require.ErrorIs(t, err, ErrRegistrationFailed)
}

func TestParseRegistrationData_TruncatedCertificate(t *testing.T) {
	// 0x05 | pubKey(65) | khLen=0, then a DER header declaring more
	// certificate bytes than the payload carries.
	prefix := append([]byte{0x05}, make([]byte, pubKeyLen)...)
	prefix = append(prefix, 0x00)

	cases := []struct {
		name string
		cert []byte
	}{
		{"short form", []byte{0x30, 0x7f, 0x00, 0x00}},
		{"long form one byte", []byte{0x30, 0x81, 0xff, 0x00}},
		{"long form two bytes", []byte{0x30, 0x82, 0x01, 0x00, 0x00}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := append(append([]byte{}, prefix...), tc.cert...)
			_, err := parseRegistrationData(data)
			require.Error(t, err)
		})
	}
}

func TestSecurityKey_RegistrationTruncatedCertificate(t *testing.T) {
	ctx := t.Context()
	p := NewSecurityKey(memory.New().Attributes(), testAppID, true)

	payload, err := p.StartRegistration(ctx, "u1")
	require.NoError(t, err)

	_, cdB64 := u2fClientData(t, clientDataTypeRegister, payload.Challenge)
	regData := append([]byte{0x05}, make([]byte, pubKeyLen)...)
	regData = append(regData, 0x00)
	regData = append(regData, 0x30, 0x7f, 0x00, 0x00)

	resp, err := json.Marshal(registerResponse{
		Version:          u2fVersion,
		RegistrationData: base64.RawURLEncoding.EncodeToString(regData),
		ClientData:       cdB64,
	})
	require.NoError(t, err)

	_, err = p.CompleteRegistration(ctx, "u1", string(resp))
	require.ErrorIs(t, err, ErrRegistrationFailed)
}

func TestSecurityKey_DuplicateHandle(t *testing.T) {
	ctx := t.Context()
	p, tok := registeredProvider(t)

	payload, err := p.StartRegistration(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []string{tok.handleB64()}, payload.KeyHandles)

	_, err = p.CompleteRegistration(ctx, "u1", tok.register(t, payload.Challenge, testAppID))
	require.ErrorIs(t, err, ErrRegistrationFailed)
}

func TestSecurityKey_Authentication(t *testing.T) {
	ctx := t.Context()
	p, tok := registeredProvider(t)

	payload, err := p.IssueChallenge(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []string{tok.handleB64()}, payload.KeyHandles)

	ok, err := p.Verify(ctx, "u1", tok.sign(t, payload.Challenge, testAppID, 1))
	require.NoError(t, err)
	require.True(t, ok)

	keys, err := p.Keys(ctx, "u1")
	require.NoError(t, err)
	require.EqualValues(t, 1, keys[0].Counter)
	require.False(t, keys[0].LastUsedAt.IsZero())
}

func TestSecurityKey_CounterReplay(t *testing.T) {
	ctx := t.Context()
	p, tok := registeredProvider(t)

	payload, err := p.IssueChallenge(ctx, "u1")
	require.NoError(t, err)
	ok, err := p.Verify(ctx, "u1", tok.sign(t, payload.Challenge, testAppID, 5))
	require.NoError(t, err)
	require.True(t, ok)

	// A response whose counter does not advance is a possible clone.
	payload, err = p.IssueChallenge(ctx, "u1")
	require.NoError(t, err)
	_, err = p.Verify(ctx, "u1", tok.sign(t, payload.Challenge, testAppID, 5))
	require.ErrorIs(t, err, ErrSignatureReplay)

	// The stored counter is untouched and a proper advance still works.
	payload, err = p.IssueChallenge(ctx, "u1")
	require.NoError(t, err)
	ok, err = p.Verify(ctx, "u1", tok.sign(t, payload.Challenge, testAppID, 6))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSecurityKey_ChallengeConsumedOnFailure(t *testing.T) {
	ctx := t.Context()
	p, tok := registeredProvider(t)

	payload, err := p.IssueChallenge(ctx, "u1")
	require.NoError(t, err)

	ok, err := p.Verify(ctx, "u1", "garbage")
	require.NoError(t, err)
	require.False(t, ok)

	// The consumed challenge cannot be answered any more.
	ok, err = p.Verify(ctx, "u1", tok.sign(t, payload.Challenge, testAppID, 1))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSecurityKey_ExpiredChallenge(t *testing.T) {
	ctx := t.Context()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := now

	p := NewSecurityKey(memory.New().Attributes(), testAppID, true,
		WithKeyClock(func() time.Time { return clock }))
	tok := newFakeToken(t)

	payload, err := p.StartRegistration(ctx, "u1")
	require.NoError(t, err)
	reg := tok.register(t, payload.Challenge, testAppID)

	clock = now.Add(keyChallengeWindow + time.Minute)
	_, err = p.CompleteRegistration(ctx, "u1", reg)
	require.ErrorIs(t, err, ErrChallengeExpired)
}

func TestSecurityKey_InsecureTransportUnavailable(t *testing.T) {
	ctx := t.Context()
	attrs := memory.New().Attributes()

	p := NewSecurityKey(attrs, testAppID, true)
	tok := newFakeToken(t)
	payload, err := p.StartRegistration(ctx, "u1")
	require.NoError(t, err)
	_, err = p.CompleteRegistration(ctx, "u1", tok.register(t, payload.Challenge, testAppID))
	require.NoError(t, err)

	insecure := NewSecurityKey(attrs, testAppID, false)
	ok, err := insecure.IsAvailable(ctx, "u1")
	require.NoError(t, err)
	require.False(t, ok)

	unsupported := NewSecurityKey(attrs, testAppID, true,
		WithKeyClientSupport(func(context.Context) bool { return false }))
	ok, err = unsupported.IsAvailable(ctx, "u1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSecurityKey_RenameAndRemove(t *testing.T) {
	ctx := t.Context()
	p, _ := registeredProvider(t)

	keys, err := p.Keys(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, keys, 1)

	require.NoError(t, p.Rename(ctx, "u1", keys[0].ID, "Desk Key"))
	keys, err = p.Keys(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "Desk Key", keys[0].Label)

	require.NoError(t, p.Remove(ctx, "u1", keys[0].ID))
	keys, err = p.Keys(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, keys)

	_, err = p.IssueChallenge(ctx, "u1")
	require.ErrorIs(t, err, ErrNotEnrolled)
}
