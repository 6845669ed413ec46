package domain

import (
	"math/big"

	"github.com/google/uuid"

	"github.com/escrownet/escrowd/pkg/crypto"
)

// DisputeRole is the role of the local user within a dispute.
type DisputeRole int

const (
	DisputeRoleAgent0 DisputeRole = iota
	DisputeRoleAgent1
	DisputeRoleAgent2
)

var disputeRoleStrings = map[DisputeRole]string{
	DisputeRoleAgent0: "disputeAgent0",
	DisputeRoleAgent1: "disputeAgent1",
	DisputeRoleAgent2: "disputeAgent2",
}

// String returns the persistence form of the dispute role.
func (r DisputeRole) String() string {
	return disputeRoleStrings[r]
}

// DisputeStateAsAgent describes the state of a dispute from the perspective
// of a dispute agent.
type DisputeStateAsAgent int

const (
	DisputeStateAsAgentNone DisputeStateAsAgent = iota
	DisputeStateAsAgentSentAgent0PKA
	DisputeStateAsAgentCreatedCommunicationKeys
)

var disputeStateAsAgentStrings = map[DisputeStateAsAgent]string{
	DisputeStateAsAgentNone:                     "none",
	DisputeStateAsAgentSentAgent0PKA:            "sentDisputeAgent0Pka",
	DisputeStateAsAgentCreatedCommunicationKeys: "createdCommunicationKeys",
}

// String returns the persistence form of the agent-side dispute state.
func (s DisputeStateAsAgent) String() string {
	return disputeStateAsAgentStrings[s]
}

// DisputeStateAsAgentFromString returns the DisputeStateAsAgent whose
// persistence form is s.
func DisputeStateAsAgentFromString(s string) DisputeStateAsAgent {
	for state, str := range disputeStateAsAgentStrings {
		if str == s {
			return state
		}
	}
	return DisputeStateAsAgentNone
}

// SwapAndDispute is the full on-chain record of a disputed swap, held only
// by nodes acting as a dispute agent: every Swap field plus the dispute
// agents, their proposed payouts and reactions, and the symmetric keys for
// the three communication channels of the dispute.
type SwapAndDispute struct {
	ID                      uuid.UUID
	ChainID                 *big.Int
	IsCreated               bool
	RequiresFill            bool
	Maker                   string
	MakerInterfaceID        []byte
	Taker                   string
	TakerInterfaceID        []byte
	Stablecoin              string
	AmountLowerBound        *big.Int
	AmountUpperBound        *big.Int
	SecurityDeposit         *big.Int
	TakenSwapAmount         *big.Int
	ServiceFeeAmount        *big.Int
	ServiceFeeRate          *big.Int
	Direction               OfferDirection
	OnChainSettlementMethod []byte
	ProtocolVersion         *big.Int
	IsPaymentSent           bool
	IsPaymentReceived       bool
	HasBuyerClosed          bool
	HasSellerClosed         bool
	OnChainDisputeRaiser    *big.Int

	DisputeRaisedBlockNumber *big.Int
	DisputeAgent0            string
	DisputeAgent1            string
	DisputeAgent2            string
	HasAgent0Proposed        bool
	Agent0MakerPayout        *big.Int
	Agent0TakerPayout        *big.Int
	Agent0ConfiscationPayout *big.Int
	HasAgent1Proposed        bool
	Agent1MakerPayout        *big.Int
	Agent1TakerPayout        *big.Int
	Agent1ConfiscationPayout *big.Int
	HasAgent2Proposed        bool
	Agent2MakerPayout        *big.Int
	Agent2TakerPayout        *big.Int
	Agent2ConfiscationPayout *big.Int
	OnChainMatchingProposals *big.Int
	MakerReaction            *big.Int
	TakerReaction            *big.Int
	OnChainState             *big.Int

	HasMakerPaidOut              bool
	HasTakerPaidOut              bool
	TotalWithoutSpentServiceFees *big.Int

	Role                  DisputeRole
	State                 DisputeStateAsAgent
	Agent0InterfaceID     []byte
	MakerCommunicationKey *crypto.SymmetricKey
	TakerCommunicationKey *crypto.SymmetricKey
	AgentCommunicationKey *crypto.SymmetricKey
}
