package p2p

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/escrownet/escrowd/internal/chain"
	"github.com/escrownet/escrowd/internal/core/domain"
	"github.com/escrownet/escrowd/pkg/crypto"
)

// Every parser in this file returns nil when the input is not a valid
// message of its type. Malformed, misaddressed or unverifiable input is
// never an error, the caller just tries the next parser.

// ParseEnvelope decodes the outer JSON document of a chat message.
func ParseEnvelope(messageString string) *Envelope {
	var envelope Envelope
	if err := json.Unmarshal([]byte(messageString), &envelope); err != nil {
		return nil
	}
	if envelope.Sender == "" || envelope.Payload == "" || envelope.Signature == "" {
		return nil
	}
	return &envelope
}

// ParsePublicKeyAnnouncement restores a public key announcement from a raw
// chat message.
func ParsePublicKeyAnnouncement(messageString string) *PublicKeyAnnouncement {
	envelope := ParseEnvelope(messageString)
	if envelope == nil || envelope.MsgType != msgTypePublicKeyAnnouncement {
		return nil
	}
	payloadBytes, err := b64.DecodeString(envelope.Payload)
	if err != nil {
		return nil
	}
	var payload publicKeyAnnouncementPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil
	}
	offerIDBytes, err := b64.DecodeString(payload.OfferID)
	if err != nil {
		return nil
	}
	offerID, err := chain.EntityIDFromBytes(offerIDBytes)
	if err != nil {
		return nil
	}
	publicKey := verifiedBroadcastKey(envelope, payload.PubKey, payloadBytes)
	if publicKey == nil {
		return nil
	}
	return &PublicKeyAnnouncement{OfferID: offerID, PublicKey: publicKey}
}

// ParsePublicKeyAnnouncementAsUserForDispute restores a dispute user key
// announcement from a raw chat message.
func ParsePublicKeyAnnouncementAsUserForDispute(
	messageString string,
) *PublicKeyAnnouncementAsUserForDispute {
	envelope := ParseEnvelope(messageString)
	if envelope == nil || envelope.MsgType != msgTypeDisputeUserPKA {
		return nil
	}
	payloadBytes, err := b64.DecodeString(envelope.Payload)
	if err != nil {
		return nil
	}
	var payload disputeUserPKAPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil
	}
	swapID, err := uuid.Parse(payload.ID)
	if err != nil {
		return nil
	}
	chainID, ok := new(big.Int).SetString(payload.ChainID, 10)
	if !ok {
		return nil
	}
	publicKey := verifiedBroadcastKey(envelope, payload.PubKey, payloadBytes)
	if publicKey == nil {
		return nil
	}
	return &PublicKeyAnnouncementAsUserForDispute{
		SwapID:    swapID,
		ChainID:   chainID,
		PublicKey: publicKey,
	}
}

var agentRolesByMsgType = map[string]domain.DisputeRole{
	domain.DisputeRoleAgent0.String() + "Pka": domain.DisputeRoleAgent0,
	domain.DisputeRoleAgent1.String() + "Pka": domain.DisputeRoleAgent1,
	domain.DisputeRoleAgent2.String() + "Pka": domain.DisputeRoleAgent2,
}

// ParsePublicKeyAnnouncementAsAgentForDispute restores a dispute agent key
// announcement. Besides the usual interface-ID and signature checks, the
// secondary signature must recover to the Ethereum address claimed in the
// envelope, so the announcement can be matched against the agents selected
// on chain.
func ParsePublicKeyAnnouncementAsAgentForDispute(
	messageString string,
) *PublicKeyAnnouncementAsAgentForDispute {
	envelope := ParseEnvelope(messageString)
	if envelope == nil {
		return nil
	}
	role, ok := agentRolesByMsgType[envelope.MsgType]
	if !ok {
		return nil
	}
	if envelope.SenderEthAddr == "" || envelope.SignatureEth == "" {
		return nil
	}
	payloadBytes, err := b64.DecodeString(envelope.Payload)
	if err != nil {
		return nil
	}
	var payload disputeAgentPKAPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil
	}
	swapID, err := uuid.Parse(payload.SwapID)
	if err != nil {
		return nil
	}
	publicKey := verifiedBroadcastKey(envelope, payload.PubKey, payloadBytes)
	if publicKey == nil {
		return nil
	}

	ethSignature, err := b64.DecodeString(envelope.SignatureEth)
	if err != nil || len(ethSignature) != 65 {
		return nil
	}
	// Accept both 0/1 and 27/28 recovery identifiers.
	if ethSignature[64] >= 27 {
		ethSignature = append(bytes.Clone(ethSignature[:64]), ethSignature[64]-27)
	}
	payloadHash := sha256.Sum256(payloadBytes)
	recovered, err := gethcrypto.SigToPub(accounts.TextHash(payloadHash[:]), ethSignature)
	if err != nil {
		return nil
	}
	address := gethcrypto.PubkeyToAddress(*recovered).Hex()
	if !strings.EqualFold(address, envelope.SenderEthAddr) {
		return nil
	}
	return &PublicKeyAnnouncementAsAgentForDispute{
		SwapID:          swapID,
		Role:            role,
		PublicKey:       publicKey,
		EthereumAddress: strings.ToLower(address),
	}
}

// verifiedBroadcastKey restores the announced public key, checks that the
// envelope sender equals its interface ID and verifies the payload
// signature. Returns nil on any failure.
func verifiedBroadcastKey(
	envelope *Envelope, pubKeyField string, payloadBytes []byte,
) *crypto.PublicKey {
	pubKeyBytes, err := b64.DecodeString(pubKeyField)
	if err != nil {
		return nil
	}
	publicKey, err := crypto.PublicKeyFromBytes(pubKeyBytes)
	if err != nil {
		return nil
	}
	sender, err := b64.DecodeString(envelope.Sender)
	if err != nil || !bytes.Equal(sender, publicKey.InterfaceID) {
		return nil
	}
	signature, err := b64.DecodeString(envelope.Signature)
	if err != nil {
		return nil
	}
	payloadHash := sha256.Sum256(payloadBytes)
	if !publicKey.Verify(payloadHash[:], signature) {
		return nil
	}
	return publicKey
}

// decryptEnvelopePayload recovers the plaintext payload of an encrypted
// envelope addressed to the given key pair, returning nil when the envelope
// is misaddressed or undecryptable.
func decryptEnvelopePayload(envelope *Envelope, keyPair *crypto.KeyPair) ([]byte, []byte) {
	recipient, err := b64.DecodeString(envelope.Recipient)
	if err != nil || !bytes.Equal(recipient, keyPair.InterfaceID) {
		return nil, nil
	}
	encryptedKey, err := b64.DecodeString(envelope.EncryptedKey)
	if err != nil {
		return nil, nil
	}
	keyBytes, err := keyPair.Decrypt(encryptedKey)
	if err != nil {
		return nil, nil
	}
	symmetricKey, err := crypto.SymmetricKeyFromBytes(keyBytes)
	if err != nil {
		return nil, nil
	}
	encryptedIV, err := b64.DecodeString(envelope.EncryptedIV)
	if err != nil {
		return nil, nil
	}
	iv, err := keyPair.Decrypt(encryptedIV)
	if err != nil {
		return nil, nil
	}
	ciphertext, err := b64.DecodeString(envelope.Payload)
	if err != nil {
		return nil, nil
	}
	plaintext, err := symmetricKey.Decrypt(&crypto.SymmetricallyEncryptedData{
		Ciphertext: ciphertext,
		IV:         iv,
	})
	if err != nil {
		return nil, nil
	}
	return plaintext, ciphertext
}

// verifyEncryptedSignature checks the envelope signature over the SHA-256
// hash of the transmitted (encrypted) payload bytes.
func verifyEncryptedSignature(
	envelope *Envelope, ciphertext []byte, senderPublicKey *crypto.PublicKey,
) bool {
	sender, err := b64.DecodeString(envelope.Sender)
	if err != nil || !bytes.Equal(sender, senderPublicKey.InterfaceID) {
		return false
	}
	signature, err := b64.DecodeString(envelope.Signature)
	if err != nil {
		return false
	}
	ciphertextHash := sha256.Sum256(ciphertext)
	return senderPublicKey.Verify(ciphertextHash[:], signature)
}

// ParseTakerInformationMessage restores a taker information message
// addressed to the given key pair. The sender's public key travels inside
// the payload, so no prior key exchange is required.
func ParseTakerInformationMessage(
	envelope *Envelope, keyPair *crypto.KeyPair,
) *TakerInformationMessage {
	if envelope == nil {
		return nil
	}
	plaintext, ciphertext := decryptEnvelopePayload(envelope, keyPair)
	if plaintext == nil {
		return nil
	}
	var payload takerInformationPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil
	}
	if payload.MsgType != payloadTypeTakerInformation {
		return nil
	}
	swapIDBytes, err := b64.DecodeString(payload.SwapID)
	if err != nil {
		return nil
	}
	swapID, err := chain.EntityIDFromBytes(swapIDBytes)
	if err != nil {
		return nil
	}
	pubKeyBytes, err := b64.DecodeString(payload.PubKey)
	if err != nil {
		return nil
	}
	publicKey, err := crypto.PublicKeyFromBytes(pubKeyBytes)
	if err != nil {
		return nil
	}
	if !verifyEncryptedSignature(envelope, ciphertext, publicKey) {
		return nil
	}
	details, err := b64.DecodeString(payload.PaymentDetails)
	if err != nil {
		return nil
	}
	return &TakerInformationMessage{
		SwapID:                  swapID,
		PublicKey:               publicKey,
		SettlementMethodDetails: string(details),
	}
}

// ParseMakerInformationMessage restores a maker information message
// addressed to the given key pair. The sender's public key must already be
// known, it is looked up by the envelope sender field before calling this.
func ParseMakerInformationMessage(
	envelope *Envelope, keyPair *crypto.KeyPair, senderPublicKey *crypto.PublicKey,
) *MakerInformationMessage {
	if envelope == nil {
		return nil
	}
	plaintext, ciphertext := decryptEnvelopePayload(envelope, keyPair)
	if plaintext == nil {
		return nil
	}
	if !verifyEncryptedSignature(envelope, ciphertext, senderPublicKey) {
		return nil
	}
	var payload makerInformationPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil
	}
	if payload.MsgType != payloadTypeMakerInformation {
		return nil
	}
	swapIDBytes, err := b64.DecodeString(payload.SwapID)
	if err != nil {
		return nil
	}
	swapID, err := chain.EntityIDFromBytes(swapIDBytes)
	if err != nil {
		return nil
	}
	details, err := b64.DecodeString(payload.PaymentDetails)
	if err != nil {
		return nil
	}
	return &MakerInformationMessage{
		SwapID:                  swapID,
		SettlementMethodDetails: string(details),
	}
}

// ParseCommunicationKeyMessage restores a maker or taker communication key
// message addressed to the given key pair and signed by the given sender.
func ParseCommunicationKeyMessage(
	envelope *Envelope, keyPair *crypto.KeyPair, senderPublicKey *crypto.PublicKey,
) *CommunicationKeyMessage {
	if envelope == nil {
		return nil
	}
	plaintext, ciphertext := decryptEnvelopePayload(envelope, keyPair)
	if plaintext == nil {
		return nil
	}
	if !verifyEncryptedSignature(envelope, ciphertext, senderPublicKey) {
		return nil
	}
	var payload communicationKeyPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil
	}
	var keyType CommunicationKeyType
	switch payload.MsgType {
	case payloadTypeMakerCommKey:
		keyType = MakerCommunicationKey
	case payloadTypeTakerCommKey:
		keyType = TakerCommunicationKey
	default:
		return nil
	}
	swapID, err := uuid.Parse(payload.SwapID)
	if err != nil {
		return nil
	}
	chainID, ok := new(big.Int).SetString(payload.ChainID, 10)
	if !ok {
		return nil
	}
	keyBytes, err := b64.DecodeString(payload.Key)
	if err != nil {
		return nil
	}
	key, err := crypto.SymmetricKeyFromBytes(keyBytes)
	if err != nil {
		return nil
	}
	return &CommunicationKeyMessage{
		Type:    keyType,
		SwapID:  swapID,
		ChainID: chainID,
		Key:     key,
	}
}
