package p2p

import (
	"math/big"

	"github.com/google/uuid"

	"github.com/escrownet/escrowd/internal/core/domain"
	"github.com/escrownet/escrowd/pkg/crypto"
)

// Envelope is the outer JSON document of every message on the chat network.
// The payload is Base64, itself a JSON document, symmetrically encrypted for
// direct messages. The signature covers the SHA-256 hash of the payload
// bytes as transmitted, so the encrypted form when encryption is used.
type Envelope struct {
	Sender        string `json:"sender"`
	Recipient     string `json:"recipient,omitempty"`
	EncryptedKey  string `json:"encryptedKey,omitempty"`
	EncryptedIV   string `json:"encryptedIV,omitempty"`
	MsgType       string `json:"msgType,omitempty"`
	Payload       string `json:"payload"`
	Signature     string `json:"signature"`
	SenderEthAddr string `json:"senderEthAddr,omitempty"`
	SignatureEth  string `json:"signatureEth,omitempty"`
}

// Envelope-level tags of the unencrypted broadcast message types. Encrypted
// messages carry their tag inside the payload instead.
const (
	msgTypePublicKeyAnnouncement = "pka"
	msgTypeDisputeUserPKA        = "disputeUserPka"

	payloadTypeTakerInformation = "takerInfo"
	payloadTypeMakerInformation = "makerInfo"
	payloadTypeMakerCommKey     = "MCKAnnouncement"
	payloadTypeTakerCommKey     = "TCKAnnouncement"
)

type publicKeyAnnouncementPayload struct {
	PubKey  string `json:"pubKey"`
	OfferID string `json:"offerId"`
}

type takerInformationPayload struct {
	MsgType        string `json:"msgType"`
	PubKey         string `json:"pubKey"`
	SwapID         string `json:"swapId"`
	PaymentDetails string `json:"paymentDetails"`
}

type makerInformationPayload struct {
	MsgType        string `json:"msgType"`
	SwapID         string `json:"swapId"`
	PaymentDetails string `json:"paymentDetails"`
}

type disputeUserPKAPayload struct {
	ID      string `json:"id"`
	ChainID string `json:"chainID"`
	PubKey  string `json:"pubKey"`
}

type disputeAgentPKAPayload struct {
	PubKey string `json:"pubKey"`
	SwapID string `json:"swapId"`
}

type communicationKeyPayload struct {
	MsgType string `json:"msgType"`
	SwapID  string `json:"swapId"`
	ChainID string `json:"chainID"`
	Key     string `json:"key"`
}

// PublicKeyAnnouncement binds an offer maker's interface ID to their public
// key. It is broadcast unencrypted after the offer opens.
type PublicKeyAnnouncement struct {
	OfferID   uuid.UUID
	PublicKey *crypto.PublicKey
}

// TakerInformationMessage carries the taker's public key and private
// settlement details to the maker.
type TakerInformationMessage struct {
	SwapID                  uuid.UUID
	PublicKey               *crypto.PublicKey
	SettlementMethodDetails string
}

// MakerInformationMessage carries the maker's private settlement details to
// the taker.
type MakerInformationMessage struct {
	SwapID                  uuid.UUID
	SettlementMethodDetails string
}

// PublicKeyAnnouncementAsUserForDispute announces the key a maker or taker
// will use for dispute communication.
type PublicKeyAnnouncementAsUserForDispute struct {
	SwapID    uuid.UUID
	ChainID   *big.Int
	PublicKey *crypto.PublicKey
}

// PublicKeyAnnouncementAsAgentForDispute announces a dispute agent's key,
// co-signed with the agent's on-chain key so the announcement is bound to
// the agent address selected in the raise-dispute transaction.
type PublicKeyAnnouncementAsAgentForDispute struct {
	SwapID          uuid.UUID
	Role            domain.DisputeRole
	PublicKey       *crypto.PublicKey
	EthereumAddress string
}

// CommunicationKeyType distinguishes the maker channel key from the taker
// channel key.
type CommunicationKeyType int

const (
	MakerCommunicationKey CommunicationKeyType = iota
	TakerCommunicationKey
)

func (t CommunicationKeyType) payloadType() string {
	if t == MakerCommunicationKey {
		return payloadTypeMakerCommKey
	}
	return payloadTypeTakerCommKey
}

// CommunicationKeyMessage distributes a symmetric dispute channel key from
// the first dispute agent to a maker or taker.
type CommunicationKeyMessage struct {
	Type    CommunicationKeyType
	SwapID  uuid.UUID
	ChainID *big.Int
	Key     *crypto.SymmetricKey
}
