package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Calldata builders for the mutating contract calls. Each is deterministic
// in its inputs so a rebuilt payload can be byte-compared against one a
// caller supplied earlier.

// OpenOfferParams carries the on-chain fields of a new offer.
type OpenOfferParams struct {
	OfferID               uuid.UUID
	Stablecoin            string
	AmountLowerBound      *big.Int
	AmountUpperBound      *big.Int
	SecurityDepositAmount *big.Int
	Direction             uint8
	SettlementMethods     [][]byte
	ProtocolVersion       *big.Int
	InterfaceID           []byte
}

func PackOpenOffer(p OpenOfferParams) ([]byte, error) {
	stablecoin, err := parseAddress(p.Stablecoin)
	if err != nil {
		return nil, err
	}
	return escrowABI.Pack(
		"openOffer",
		EntityIDToBytes(p.OfferID),
		stablecoin,
		p.AmountLowerBound,
		p.AmountUpperBound,
		p.SecurityDepositAmount,
		p.Direction,
		p.SettlementMethods,
		p.ProtocolVersion,
		p.InterfaceID,
	)
}

func PackCancelOffer(offerID uuid.UUID) ([]byte, error) {
	return escrowABI.Pack("cancelOffer", EntityIDToBytes(offerID))
}

func PackEditOffer(offerID uuid.UUID, settlementMethods [][]byte) ([]byte, error) {
	return escrowABI.Pack("editOffer", EntityIDToBytes(offerID), settlementMethods)
}

func PackTakeOffer(
	offerID uuid.UUID, takenSwapAmount *big.Int,
	settlementMethod, takerInterfaceID []byte,
) ([]byte, error) {
	return escrowABI.Pack(
		"takeOffer", EntityIDToBytes(offerID), takenSwapAmount,
		settlementMethod, takerInterfaceID,
	)
}

func PackFillSwap(swapID uuid.UUID) ([]byte, error) {
	return escrowABI.Pack("fillSwap", EntityIDToBytes(swapID))
}

func PackReportPaymentSent(swapID uuid.UUID) ([]byte, error) {
	return escrowABI.Pack("reportPaymentSent", EntityIDToBytes(swapID))
}

func PackReportPaymentReceived(swapID uuid.UUID) ([]byte, error) {
	return escrowABI.Pack("reportPaymentReceived", EntityIDToBytes(swapID))
}

func PackCloseSwap(swapID uuid.UUID) ([]byte, error) {
	return escrowABI.Pack("closeSwap", EntityIDToBytes(swapID))
}

func PackRaiseDispute(swapID uuid.UUID, agent0, agent1, agent2 string) ([]byte, error) {
	a0, err := parseAddress(agent0)
	if err != nil {
		return nil, err
	}
	a1, err := parseAddress(agent1)
	if err != nil {
		return nil, err
	}
	a2, err := parseAddress(agent2)
	if err != nil {
		return nil, err
	}
	return escrowABI.Pack("raiseDispute", EntityIDToBytes(swapID), a0, a1, a2)
}

func parseAddress(addr string) (common.Address, error) {
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("invalid address %s", addr)
	}
	return common.HexToAddress(addr), nil
}
