package p2p

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/escrownet/escrowd/internal/chain"
	"github.com/escrownet/escrowd/internal/core/domain"
	"github.com/escrownet/escrowd/pkg/crypto"
)

var b64 = base64.StdEncoding

// BuildPublicKeyAnnouncement builds the unencrypted broadcast announcing the
// public key behind a maker's interface ID.
func BuildPublicKeyAnnouncement(keyPair *crypto.KeyPair, offerID uuid.UUID) (string, error) {
	offerIDBytes := chain.EntityIDToBytes(offerID)
	payload, err := json.Marshal(publicKeyAnnouncementPayload{
		PubKey:  b64.EncodeToString(keyPair.PublicKeyBytes()),
		OfferID: b64.EncodeToString(offerIDBytes[:]),
	})
	if err != nil {
		return "", err
	}
	return buildBroadcastEnvelope(keyPair, msgTypePublicKeyAnnouncement, payload, nil)
}

// BuildPublicKeyAnnouncementAsUserForDispute builds the unencrypted
// broadcast announcing the key a maker or taker will use during a dispute.
func BuildPublicKeyAnnouncementAsUserForDispute(
	keyPair *crypto.KeyPair, swapID uuid.UUID, chainID *big.Int,
) (string, error) {
	payload, err := json.Marshal(disputeUserPKAPayload{
		ID:      swapID.String(),
		ChainID: chainID.String(),
		PubKey:  b64.EncodeToString(keyPair.PublicKeyBytes()),
	})
	if err != nil {
		return "", err
	}
	return buildBroadcastEnvelope(keyPair, msgTypeDisputeUserPKA, payload, nil)
}

// BuildPublicKeyAnnouncementAsAgentForDispute builds the unencrypted
// broadcast announcing a dispute agent's key, additionally signed with the
// agent's on-chain key so the message is bound to the selected agent
// address.
func BuildPublicKeyAnnouncementAsAgentForDispute(
	keyPair *crypto.KeyPair,
	swapID uuid.UUID,
	role domain.DisputeRole,
	ethereumKey *ecdsa.PrivateKey,
) (string, error) {
	payload, err := json.Marshal(disputeAgentPKAPayload{
		PubKey: b64.EncodeToString(keyPair.PublicKeyBytes()),
		SwapID: swapID.String(),
	})
	if err != nil {
		return "", err
	}
	payloadHash := sha256.Sum256(payload)
	ethSignature, err := gethcrypto.Sign(accounts.TextHash(payloadHash[:]), ethereumKey)
	if err != nil {
		return "", err
	}
	extra := &agentSignature{
		address:   gethcrypto.PubkeyToAddress(ethereumKey.PublicKey).Hex(),
		signature: ethSignature,
	}
	return buildBroadcastEnvelope(keyPair, role.String()+"Pka", payload, extra)
}

type agentSignature struct {
	address   string
	signature []byte
}

func buildBroadcastEnvelope(
	keyPair *crypto.KeyPair, msgType string, payload []byte, agentSig *agentSignature,
) (string, error) {
	payloadHash := sha256.Sum256(payload)
	signature, err := keyPair.Sign(payloadHash[:])
	if err != nil {
		return "", err
	}
	envelope := Envelope{
		Sender:    b64.EncodeToString(keyPair.InterfaceID),
		MsgType:   msgType,
		Payload:   b64.EncodeToString(payload),
		Signature: b64.EncodeToString(signature),
	}
	if agentSig != nil {
		envelope.SenderEthAddr = agentSig.address
		envelope.SignatureEth = b64.EncodeToString(agentSig.signature)
	}
	out, err := json.Marshal(envelope)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// BuildTakerInformationMessage builds the encrypted message carrying the
// taker's public key and private settlement details to the maker.
func BuildTakerInformationMessage(
	keyPair *crypto.KeyPair,
	makerPublicKey *crypto.PublicKey,
	swapID uuid.UUID,
	settlementMethodDetails string,
) (string, error) {
	swapIDBytes := chain.EntityIDToBytes(swapID)
	payload, err := json.Marshal(takerInformationPayload{
		MsgType:        payloadTypeTakerInformation,
		PubKey:         b64.EncodeToString(keyPair.PublicKeyBytes()),
		SwapID:         b64.EncodeToString(swapIDBytes[:]),
		PaymentDetails: b64.EncodeToString([]byte(settlementMethodDetails)),
	})
	if err != nil {
		return "", err
	}
	return buildEncryptedEnvelope(keyPair, makerPublicKey, payload)
}

// BuildMakerInformationMessage builds the encrypted message carrying the
// maker's private settlement details to the taker.
func BuildMakerInformationMessage(
	keyPair *crypto.KeyPair,
	takerPublicKey *crypto.PublicKey,
	swapID uuid.UUID,
	settlementMethodDetails string,
) (string, error) {
	swapIDBytes := chain.EntityIDToBytes(swapID)
	payload, err := json.Marshal(makerInformationPayload{
		MsgType:        payloadTypeMakerInformation,
		SwapID:         b64.EncodeToString(swapIDBytes[:]),
		PaymentDetails: b64.EncodeToString([]byte(settlementMethodDetails)),
	})
	if err != nil {
		return "", err
	}
	return buildEncryptedEnvelope(keyPair, takerPublicKey, payload)
}

// BuildCommunicationKeyMessage builds the encrypted message distributing a
// dispute channel key to a maker or taker.
func BuildCommunicationKeyMessage(
	keyPair *crypto.KeyPair,
	recipientPublicKey *crypto.PublicKey,
	keyType CommunicationKeyType,
	swapID uuid.UUID,
	chainID *big.Int,
	key *crypto.SymmetricKey,
) (string, error) {
	payload, err := json.Marshal(communicationKeyPayload{
		MsgType: keyType.payloadType(),
		SwapID:  swapID.String(),
		ChainID: chainID.String(),
		Key:     b64.EncodeToString(key.Bytes),
	})
	if err != nil {
		return "", err
	}
	return buildEncryptedEnvelope(keyPair, recipientPublicKey, payload)
}

func buildEncryptedEnvelope(
	keyPair *crypto.KeyPair, recipientPublicKey *crypto.PublicKey, payload []byte,
) (string, error) {
	symmetricKey, err := crypto.NewSymmetricKey()
	if err != nil {
		return "", err
	}
	encryptedPayload, err := symmetricKey.Encrypt(payload)
	if err != nil {
		return "", err
	}
	encryptedPayloadHash := sha256.Sum256(encryptedPayload.Ciphertext)
	signature, err := keyPair.Sign(encryptedPayloadHash[:])
	if err != nil {
		return "", err
	}
	encryptedKey, err := recipientPublicKey.Encrypt(symmetricKey.Bytes)
	if err != nil {
		return "", fmt.Errorf("encrypting symmetric key: %w", err)
	}
	encryptedIV, err := recipientPublicKey.Encrypt(encryptedPayload.IV)
	if err != nil {
		return "", fmt.Errorf("encrypting IV: %w", err)
	}
	envelope := Envelope{
		Sender:       b64.EncodeToString(keyPair.InterfaceID),
		Recipient:    b64.EncodeToString(recipientPublicKey.InterfaceID),
		EncryptedKey: b64.EncodeToString(encryptedKey),
		EncryptedIV:  b64.EncodeToString(encryptedIV),
		Payload:      b64.EncodeToString(encryptedPayload.Ciphertext),
		Signature:    b64.EncodeToString(signature),
	}
	out, err := json.Marshal(envelope)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
