package p2p_test

import (
	"encoding/base64"
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/escrownet/escrowd/internal/core/domain"
	"github.com/escrownet/escrowd/internal/p2p"
	"github.com/escrownet/escrowd/pkg/crypto"
)

func newKeyPair(t *testing.T) *crypto.KeyPair {
	t.Helper()
	keyPair, err := crypto.NewKeyPair()
	require.NoError(t, err)
	return keyPair
}

// tamper flips one byte inside the named Base64 field of an envelope JSON
// document and returns the reassembled message.
func tamper(t *testing.T, message, field string) string {
	t.Helper()
	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(message), &envelope))
	encoded, ok := envelope[field].(string)
	require.True(t, ok)
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	raw[len(raw)/2] ^= 0x01
	envelope[field] = base64.StdEncoding.EncodeToString(raw)
	out, err := json.Marshal(envelope)
	require.NoError(t, err)
	return string(out)
}

func TestPublicKeyAnnouncementRoundTrip(t *testing.T) {
	keyPair := newKeyPair(t)
	offerID := uuid.New()

	message, err := p2p.BuildPublicKeyAnnouncement(keyPair, offerID)
	require.NoError(t, err)

	parsed := p2p.ParsePublicKeyAnnouncement(message)
	require.NotNil(t, parsed)
	require.Equal(t, offerID, parsed.OfferID)
	require.Equal(t, keyPair.InterfaceID, parsed.PublicKey.InterfaceID)
}

func TestPublicKeyAnnouncementFailsClosed(t *testing.T) {
	keyPair := newKeyPair(t)
	message, err := p2p.BuildPublicKeyAnnouncement(keyPair, uuid.New())
	require.NoError(t, err)

	require.Nil(t, p2p.ParsePublicKeyAnnouncement("not json"))
	require.Nil(t, p2p.ParsePublicKeyAnnouncement(tamper(t, message, "payload")))
	require.Nil(t, p2p.ParsePublicKeyAnnouncement(tamper(t, message, "signature")))

	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(message), &envelope))
	envelope["msgType"] = "somethingElse"
	wrongType, err := json.Marshal(envelope)
	require.NoError(t, err)
	require.Nil(t, p2p.ParsePublicKeyAnnouncement(string(wrongType)))
}

func TestDisputeUserAnnouncementRoundTrip(t *testing.T) {
	keyPair := newKeyPair(t)
	swapID := uuid.New()

	message, err := p2p.BuildPublicKeyAnnouncementAsUserForDispute(
		keyPair, swapID, big.NewInt(31337),
	)
	require.NoError(t, err)

	parsed := p2p.ParsePublicKeyAnnouncementAsUserForDispute(message)
	require.NotNil(t, parsed)
	require.Equal(t, swapID, parsed.SwapID)
	require.Equal(t, int64(31337), parsed.ChainID.Int64())
	require.Equal(t, keyPair.InterfaceID, parsed.PublicKey.InterfaceID)

	require.Nil(t, p2p.ParsePublicKeyAnnouncementAsUserForDispute(
		tamper(t, message, "signature"),
	))
}

func TestDisputeAgentAnnouncementRoundTrip(t *testing.T) {
	keyPair := newKeyPair(t)
	ethereumKey, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	swapID := uuid.New()

	message, err := p2p.BuildPublicKeyAnnouncementAsAgentForDispute(
		keyPair, swapID, domain.DisputeRoleAgent1, ethereumKey,
	)
	require.NoError(t, err)

	parsed := p2p.ParsePublicKeyAnnouncementAsAgentForDispute(message)
	require.NotNil(t, parsed)
	require.Equal(t, swapID, parsed.SwapID)
	require.Equal(t, domain.DisputeRoleAgent1, parsed.Role)
	require.Equal(t, keyPair.InterfaceID, parsed.PublicKey.InterfaceID)

	wantAddress := gethcrypto.PubkeyToAddress(ethereumKey.PublicKey)
	require.Equal(t, strings.ToLower(wantAddress.Hex()), parsed.EthereumAddress)
}

func TestDisputeAgentAnnouncementRejectsForgedEthereumSignature(t *testing.T) {
	keyPair := newKeyPair(t)
	ethereumKey, err := gethcrypto.GenerateKey()
	require.NoError(t, err)

	message, err := p2p.BuildPublicKeyAnnouncementAsAgentForDispute(
		keyPair, uuid.New(), domain.DisputeRoleAgent0, ethereumKey,
	)
	require.NoError(t, err)

	require.Nil(t, p2p.ParsePublicKeyAnnouncementAsAgentForDispute(
		tamper(t, message, "signatureEth"),
	))

	// A mismatched claimed address must also be rejected.
	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(message), &envelope))
	envelope["senderEthAddr"] = "0x00000000000000000000000000000000000000ff"
	forged, err := json.Marshal(envelope)
	require.NoError(t, err)
	require.Nil(t, p2p.ParsePublicKeyAnnouncementAsAgentForDispute(string(forged)))
}

func TestTakerInformationMessageRoundTrip(t *testing.T) {
	makerKeyPair := newKeyPair(t)
	takerKeyPair := newKeyPair(t)
	swapID := uuid.New()
	details := `{"accountHolder":"a","bic":"b","accountNumber":"c"}`

	message, err := p2p.BuildTakerInformationMessage(
		takerKeyPair, makerKeyPair.Public(), swapID, details,
	)
	require.NoError(t, err)

	envelope := p2p.ParseEnvelope(message)
	require.NotNil(t, envelope)
	parsed := p2p.ParseTakerInformationMessage(envelope, makerKeyPair)
	require.NotNil(t, parsed)
	require.Equal(t, swapID, parsed.SwapID)
	require.Equal(t, takerKeyPair.InterfaceID, parsed.PublicKey.InterfaceID)
	require.Equal(t, details, parsed.SettlementMethodDetails)
}

func TestTakerInformationMessageFailsClosed(t *testing.T) {
	makerKeyPair := newKeyPair(t)
	takerKeyPair := newKeyPair(t)
	otherKeyPair := newKeyPair(t)

	message, err := p2p.BuildTakerInformationMessage(
		takerKeyPair, makerKeyPair.Public(), uuid.New(), "details",
	)
	require.NoError(t, err)

	// Not the intended recipient.
	envelope := p2p.ParseEnvelope(message)
	require.Nil(t, p2p.ParseTakerInformationMessage(envelope, otherKeyPair))

	// Tampered ciphertext and tampered signature.
	require.Nil(t, p2p.ParseTakerInformationMessage(
		p2p.ParseEnvelope(tamper(t, message, "payload")), makerKeyPair,
	))
	require.Nil(t, p2p.ParseTakerInformationMessage(
		p2p.ParseEnvelope(tamper(t, message, "signature")), makerKeyPair,
	))
	require.Nil(t, p2p.ParseTakerInformationMessage(
		p2p.ParseEnvelope(tamper(t, message, "encryptedKey")), makerKeyPair,
	))
}

func TestMakerInformationMessageRoundTrip(t *testing.T) {
	makerKeyPair := newKeyPair(t)
	takerKeyPair := newKeyPair(t)
	swapID := uuid.New()
	details := `{"accountHolder":"a","bic":"b","iban":"c","address":"d"}`

	message, err := p2p.BuildMakerInformationMessage(
		makerKeyPair, takerKeyPair.Public(), swapID, details,
	)
	require.NoError(t, err)

	envelope := p2p.ParseEnvelope(message)
	parsed := p2p.ParseMakerInformationMessage(
		envelope, takerKeyPair, makerKeyPair.Public(),
	)
	require.NotNil(t, parsed)
	require.Equal(t, swapID, parsed.SwapID)
	require.Equal(t, details, parsed.SettlementMethodDetails)

	// Signed by someone other than the claimed sender.
	other := newKeyPair(t)
	require.Nil(t, p2p.ParseMakerInformationMessage(
		envelope, takerKeyPair, other.Public(),
	))
}

func TestCommunicationKeyMessageRoundTrip(t *testing.T) {
	agentKeyPair := newKeyPair(t)
	makerKeyPair := newKeyPair(t)
	swapID := uuid.New()
	key, err := crypto.NewSymmetricKey()
	require.NoError(t, err)

	message, err := p2p.BuildCommunicationKeyMessage(
		agentKeyPair, makerKeyPair.Public(),
		p2p.MakerCommunicationKey, swapID, big.NewInt(1), key,
	)
	require.NoError(t, err)

	envelope := p2p.ParseEnvelope(message)
	parsed := p2p.ParseCommunicationKeyMessage(
		envelope, makerKeyPair, agentKeyPair.Public(),
	)
	require.NotNil(t, parsed)
	require.Equal(t, p2p.MakerCommunicationKey, parsed.Type)
	require.Equal(t, swapID, parsed.SwapID)
	require.Equal(t, int64(1), parsed.ChainID.Int64())
	require.Equal(t, key.Bytes, parsed.Key.Bytes)

	require.Nil(t, p2p.ParseCommunicationKeyMessage(
		p2p.ParseEnvelope(tamper(t, message, "payload")),
		makerKeyPair, agentKeyPair.Public(),
	))
}
