package chain

import (
	"context"
	"math/big"

	"github.com/google/uuid"
)

// OnChainOffer mirrors the contract's offer record.
type OnChainOffer struct {
	IsCreated             bool
	IsTaken               bool
	Maker                 string
	InterfaceID           []byte
	Stablecoin            string
	AmountLowerBound      *big.Int
	AmountUpperBound      *big.Int
	SecurityDepositAmount *big.Int
	ServiceFeeRate        *big.Int
	Direction             uint8
	SettlementMethods     [][]byte
	ProtocolVersion       *big.Int
}

// OnChainSwap mirrors the contract's swap record.
type OnChainSwap struct {
	IsCreated             bool
	RequiresFill          bool
	Maker                 string
	MakerInterfaceID      []byte
	Taker                 string
	TakerInterfaceID      []byte
	Stablecoin            string
	AmountLowerBound      *big.Int
	AmountUpperBound      *big.Int
	SecurityDepositAmount *big.Int
	TakenSwapAmount       *big.Int
	ServiceFeeAmount      *big.Int
	ServiceFeeRate        *big.Int
	Direction             uint8
	SettlementMethod      []byte
	ProtocolVersion       *big.Int
	IsPaymentSent         bool
	IsPaymentReceived     bool
	HasBuyerClosed        bool
	HasSellerClosed       bool
	DisputeRaiser         *big.Int
}

// OnChainDispute mirrors the contract's dispute record.
type OnChainDispute struct {
	DisputeRaisedBlockNum        *big.Int
	DisputeAgent0                string
	DisputeAgent1                string
	DisputeAgent2                string
	HasDA0Proposed               bool
	DA0MakerPayout               *big.Int
	DA0TakerPayout               *big.Int
	DA0ConfiscationPayout        *big.Int
	HasDA1Proposed               bool
	DA1MakerPayout               *big.Int
	DA1TakerPayout               *big.Int
	DA1ConfiscationPayout        *big.Int
	HasDA2Proposed               bool
	DA2MakerPayout               *big.Int
	DA2TakerPayout               *big.Int
	DA2ConfiscationPayout        *big.Int
	MatchingProposals            *big.Int
	MakerReaction                *big.Int
	TakerReaction                *big.Int
	State                        *big.Int
	HasMakerPaidOut              bool
	HasTakerPaidOut              bool
	TotalWithoutSpentServiceFees *big.Int
}

// GetOffer reads the on-chain offer record by ID. A never-created offer
// comes back with IsCreated false.
func (s *Service) GetOffer(ctx context.Context, id uuid.UUID) (*OnChainOffer, error) {
	data, err := escrowABI.Pack("getOffer", EntityIDToBytes(id))
	if err != nil {
		return nil, err
	}
	out, err := s.callContract(ctx, data)
	if err != nil {
		return nil, err
	}
	v, err := escrowABI.Unpack("getOffer", out)
	if err != nil {
		return nil, err
	}
	return &OnChainOffer{
		IsCreated:             v[0].(bool),
		IsTaken:               v[1].(bool),
		Maker:                 lowercaseAddress(v[2]),
		InterfaceID:           v[3].([]byte),
		Stablecoin:            lowercaseAddress(v[4]),
		AmountLowerBound:      v[5].(*big.Int),
		AmountUpperBound:      v[6].(*big.Int),
		SecurityDepositAmount: v[7].(*big.Int),
		ServiceFeeRate:        v[8].(*big.Int),
		Direction:             v[9].(uint8),
		SettlementMethods:     v[10].([][]byte),
		ProtocolVersion:       v[11].(*big.Int),
	}, nil
}

// GetSwap reads the on-chain swap record by ID.
func (s *Service) GetSwap(ctx context.Context, id uuid.UUID) (*OnChainSwap, error) {
	data, err := escrowABI.Pack("getSwap", EntityIDToBytes(id))
	if err != nil {
		return nil, err
	}
	out, err := s.callContract(ctx, data)
	if err != nil {
		return nil, err
	}
	v, err := escrowABI.Unpack("getSwap", out)
	if err != nil {
		return nil, err
	}
	return &OnChainSwap{
		IsCreated:             v[0].(bool),
		RequiresFill:          v[1].(bool),
		Maker:                 lowercaseAddress(v[2]),
		MakerInterfaceID:      v[3].([]byte),
		Taker:                 lowercaseAddress(v[4]),
		TakerInterfaceID:      v[5].([]byte),
		Stablecoin:            lowercaseAddress(v[6]),
		AmountLowerBound:      v[7].(*big.Int),
		AmountUpperBound:      v[8].(*big.Int),
		SecurityDepositAmount: v[9].(*big.Int),
		TakenSwapAmount:       v[10].(*big.Int),
		ServiceFeeAmount:      v[11].(*big.Int),
		ServiceFeeRate:        v[12].(*big.Int),
		Direction:             v[13].(uint8),
		SettlementMethod:      v[14].([]byte),
		ProtocolVersion:       v[15].(*big.Int),
		IsPaymentSent:         v[16].(bool),
		IsPaymentReceived:     v[17].(bool),
		HasBuyerClosed:        v[18].(bool),
		HasSellerClosed:       v[19].(bool),
		DisputeRaiser:         v[20].(*big.Int),
	}, nil
}

// GetDispute reads the on-chain dispute record of a swap.
func (s *Service) GetDispute(ctx context.Context, id uuid.UUID) (*OnChainDispute, error) {
	data, err := escrowABI.Pack("getDispute", EntityIDToBytes(id))
	if err != nil {
		return nil, err
	}
	out, err := s.callContract(ctx, data)
	if err != nil {
		return nil, err
	}
	v, err := escrowABI.Unpack("getDispute", out)
	if err != nil {
		return nil, err
	}
	return &OnChainDispute{
		DisputeRaisedBlockNum:        v[0].(*big.Int),
		DisputeAgent0:                lowercaseAddress(v[1]),
		DisputeAgent1:                lowercaseAddress(v[2]),
		DisputeAgent2:                lowercaseAddress(v[3]),
		HasDA0Proposed:               v[4].(bool),
		DA0MakerPayout:               v[5].(*big.Int),
		DA0TakerPayout:               v[6].(*big.Int),
		DA0ConfiscationPayout:        v[7].(*big.Int),
		HasDA1Proposed:               v[8].(bool),
		DA1MakerPayout:               v[9].(*big.Int),
		DA1TakerPayout:               v[10].(*big.Int),
		DA1ConfiscationPayout:        v[11].(*big.Int),
		HasDA2Proposed:               v[12].(bool),
		DA2MakerPayout:               v[13].(*big.Int),
		DA2TakerPayout:               v[14].(*big.Int),
		DA2ConfiscationPayout:        v[15].(*big.Int),
		MatchingProposals:            v[16].(*big.Int),
		MakerReaction:                v[17].(*big.Int),
		TakerReaction:                v[18].(*big.Int),
		State:                        v[19].(*big.Int),
		HasMakerPaidOut:              v[20].(bool),
		HasTakerPaidOut:              v[21].(bool),
		TotalWithoutSpentServiceFees: v[22].(*big.Int),
	}, nil
}
