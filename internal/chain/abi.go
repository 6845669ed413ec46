package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
)

// escrowABIJSON is the application binary interface of the escrow contract:
// the five offer-related events, the swap and dispute events, the mutating
// calls driven by the transaction pipeline, and the read-only getters used
// during validation.
const escrowABIJSON = `[
{"type":"event","name":"OfferOpened","inputs":[{"name":"offerID","type":"bytes16"},{"name":"interfaceId","type":"bytes"}],"anonymous":false},
{"type":"event","name":"OfferEdited","inputs":[{"name":"offerID","type":"bytes16"}],"anonymous":false},
{"type":"event","name":"OfferCanceled","inputs":[{"name":"offerID","type":"bytes16"}],"anonymous":false},
{"type":"event","name":"OfferTaken","inputs":[{"name":"offerID","type":"bytes16"},{"name":"takerInterfaceId","type":"bytes"}],"anonymous":false},
{"type":"event","name":"ServiceFeeRateChanged","inputs":[{"name":"newServiceFeeRate","type":"uint256"}],"anonymous":false},
{"type":"event","name":"SwapFilled","inputs":[{"name":"swapID","type":"bytes16"}],"anonymous":false},
{"type":"event","name":"PaymentSent","inputs":[{"name":"swapID","type":"bytes16"}],"anonymous":false},
{"type":"event","name":"PaymentReceived","inputs":[{"name":"swapID","type":"bytes16"}],"anonymous":false},
{"type":"event","name":"BuyerClosed","inputs":[{"name":"swapID","type":"bytes16"}],"anonymous":false},
{"type":"event","name":"SellerClosed","inputs":[{"name":"swapID","type":"bytes16"}],"anonymous":false},
{"type":"event","name":"DisputeRaised","inputs":[{"name":"swapID","type":"bytes16"},{"name":"disputeAgent0","type":"address"},{"name":"disputeAgent1","type":"address"},{"name":"disputeAgent2","type":"address"}],"anonymous":false},
{"type":"function","name":"openOffer","inputs":[{"name":"offerID","type":"bytes16"},{"name":"stablecoin","type":"address"},{"name":"amountLowerBound","type":"uint256"},{"name":"amountUpperBound","type":"uint256"},{"name":"securityDepositAmount","type":"uint256"},{"name":"direction","type":"uint8"},{"name":"settlementMethods","type":"bytes[]"},{"name":"protocolVersion","type":"uint256"},{"name":"interfaceId","type":"bytes"}],"outputs":[]},
{"type":"function","name":"cancelOffer","inputs":[{"name":"offerID","type":"bytes16"}],"outputs":[]},
{"type":"function","name":"editOffer","inputs":[{"name":"offerID","type":"bytes16"},{"name":"settlementMethods","type":"bytes[]"}],"outputs":[]},
{"type":"function","name":"takeOffer","inputs":[{"name":"offerID","type":"bytes16"},{"name":"takenSwapAmount","type":"uint256"},{"name":"settlementMethod","type":"bytes"},{"name":"takerInterfaceId","type":"bytes"}],"outputs":[]},
{"type":"function","name":"fillSwap","inputs":[{"name":"swapID","type":"bytes16"}],"outputs":[]},
{"type":"function","name":"reportPaymentSent","inputs":[{"name":"swapID","type":"bytes16"}],"outputs":[]},
{"type":"function","name":"reportPaymentReceived","inputs":[{"name":"swapID","type":"bytes16"}],"outputs":[]},
{"type":"function","name":"closeSwap","inputs":[{"name":"swapID","type":"bytes16"}],"outputs":[]},
{"type":"function","name":"raiseDispute","inputs":[{"name":"swapID","type":"bytes16"},{"name":"disputeAgent0","type":"address"},{"name":"disputeAgent1","type":"address"},{"name":"disputeAgent2","type":"address"}],"outputs":[]},
{"type":"function","name":"serviceFeeRate","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
{"type":"function","name":"getActiveDisputeAgents","inputs":[],"outputs":[{"name":"","type":"address[]"}],"stateMutability":"view"},
{"type":"function","name":"getOffer","inputs":[{"name":"offerID","type":"bytes16"}],"outputs":[{"name":"isCreated","type":"bool"},{"name":"isTaken","type":"bool"},{"name":"maker","type":"address"},{"name":"interfaceId","type":"bytes"},{"name":"stablecoin","type":"address"},{"name":"amountLowerBound","type":"uint256"},{"name":"amountUpperBound","type":"uint256"},{"name":"securityDepositAmount","type":"uint256"},{"name":"serviceFeeRate","type":"uint256"},{"name":"direction","type":"uint8"},{"name":"settlementMethods","type":"bytes[]"},{"name":"protocolVersion","type":"uint256"}],"stateMutability":"view"},
{"type":"function","name":"getSwap","inputs":[{"name":"swapID","type":"bytes16"}],"outputs":[{"name":"isCreated","type":"bool"},{"name":"requiresFill","type":"bool"},{"name":"maker","type":"address"},{"name":"makerInterfaceId","type":"bytes"},{"name":"taker","type":"address"},{"name":"takerInterfaceId","type":"bytes"},{"name":"stablecoin","type":"address"},{"name":"amountLowerBound","type":"uint256"},{"name":"amountUpperBound","type":"uint256"},{"name":"securityDepositAmount","type":"uint256"},{"name":"takenSwapAmount","type":"uint256"},{"name":"serviceFeeAmount","type":"uint256"},{"name":"serviceFeeRate","type":"uint256"},{"name":"direction","type":"uint8"},{"name":"settlementMethod","type":"bytes"},{"name":"protocolVersion","type":"uint256"},{"name":"isPaymentSent","type":"bool"},{"name":"isPaymentReceived","type":"bool"},{"name":"hasBuyerClosed","type":"bool"},{"name":"hasSellerClosed","type":"bool"},{"name":"disputeRaiser","type":"uint256"}],"stateMutability":"view"},
{"type":"function","name":"getDispute","inputs":[{"name":"swapID","type":"bytes16"}],"outputs":[{"name":"disputeRaisedBlockNum","type":"uint256"},{"name":"disputeAgent0","type":"address"},{"name":"disputeAgent1","type":"address"},{"name":"disputeAgent2","type":"address"},{"name":"hasDA0Proposed","type":"bool"},{"name":"dA0MakerPayout","type":"uint256"},{"name":"dA0TakerPayout","type":"uint256"},{"name":"dA0ConfiscationPayout","type":"uint256"},{"name":"hasDA1Proposed","type":"bool"},{"name":"dA1MakerPayout","type":"uint256"},{"name":"dA1TakerPayout","type":"uint256"},{"name":"dA1ConfiscationPayout","type":"uint256"},{"name":"hasDA2Proposed","type":"bool"},{"name":"dA2MakerPayout","type":"uint256"},{"name":"dA2TakerPayout","type":"uint256"},{"name":"dA2ConfiscationPayout","type":"uint256"},{"name":"matchingProposals","type":"uint256"},{"name":"makerReaction","type":"uint256"},{"name":"takerReaction","type":"uint256"},{"name":"state","type":"uint256"},{"name":"hasMakerPaidOut","type":"bool"},{"name":"hasTakerPaidOut","type":"bool"},{"name":"totalWithoutSpentServiceFees","type":"uint256"}],"stateMutability":"view"}
]`

// erc20ABIJSON is the subset of the ERC-20 interface the daemon calls.
const erc20ABIJSON = `[
{"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	escrowABI abi.ABI
	erc20ABI  abi.ABI
)

func init() {
	var err error
	escrowABI, err = abi.JSON(strings.NewReader(escrowABIJSON))
	if err != nil {
		panic(err)
	}
	erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic(err)
	}
}

// decodeLog decodes a single receipt log into one of the Event variants.
// Logs that do not match any contract event yield (nil, nil).
func decodeLog(log *types.Log, chainID *big.Int) (Event, error) {
	if len(log.Topics) == 0 {
		return nil, nil
	}
	abiEvent, err := escrowABI.EventByID(log.Topics[0])
	if err != nil {
		return nil, nil
	}
	values, err := escrowABI.Unpack(abiEvent.Name, log.Data)
	if err != nil {
		return nil, fmt.Errorf("unpacking %s log: %w", abiEvent.Name, err)
	}
	base := EventBase{ChainID: chainID, TransactionHash: log.TxHash.Hex()}
	switch abiEvent.Name {
	case "OfferOpened":
		id, err := eventEntityID(values[0])
		if err != nil {
			return nil, err
		}
		return OfferOpenedEvent{
			EventBase: base, OfferID: id, InterfaceID: values[1].([]byte),
		}, nil
	case "OfferEdited":
		id, err := eventEntityID(values[0])
		if err != nil {
			return nil, err
		}
		return OfferEditedEvent{EventBase: base, OfferID: id}, nil
	case "OfferCanceled":
		id, err := eventEntityID(values[0])
		if err != nil {
			return nil, err
		}
		return OfferCanceledEvent{EventBase: base, OfferID: id}, nil
	case "OfferTaken":
		id, err := eventEntityID(values[0])
		if err != nil {
			return nil, err
		}
		return OfferTakenEvent{
			EventBase: base, OfferID: id, TakerInterfaceID: values[1].([]byte),
		}, nil
	case "ServiceFeeRateChanged":
		return ServiceFeeRateChangedEvent{
			EventBase: base, NewServiceFeeRate: values[0].(*big.Int),
		}, nil
	case "SwapFilled":
		id, err := eventEntityID(values[0])
		if err != nil {
			return nil, err
		}
		return SwapFilledEvent{EventBase: base, SwapID: id}, nil
	case "PaymentSent":
		id, err := eventEntityID(values[0])
		if err != nil {
			return nil, err
		}
		return PaymentSentEvent{EventBase: base, SwapID: id}, nil
	case "PaymentReceived":
		id, err := eventEntityID(values[0])
		if err != nil {
			return nil, err
		}
		return PaymentReceivedEvent{EventBase: base, SwapID: id}, nil
	case "BuyerClosed":
		id, err := eventEntityID(values[0])
		if err != nil {
			return nil, err
		}
		return BuyerClosedEvent{EventBase: base, SwapID: id}, nil
	case "SellerClosed":
		id, err := eventEntityID(values[0])
		if err != nil {
			return nil, err
		}
		return SellerClosedEvent{EventBase: base, SwapID: id}, nil
	case "DisputeRaised":
		id, err := eventEntityID(values[0])
		if err != nil {
			return nil, err
		}
		return DisputeRaisedEvent{
			EventBase:     base,
			SwapID:        id,
			DisputeAgent0: lowercaseAddress(values[1]),
			DisputeAgent1: lowercaseAddress(values[2]),
			DisputeAgent2: lowercaseAddress(values[3]),
		}, nil
	}
	return nil, nil
}

func eventEntityID(value interface{}) (uuid.UUID, error) {
	raw, ok := value.([16]byte)
	if !ok {
		return uuid.UUID{}, fmt.Errorf("unexpected entity ID type %T", value)
	}
	return EntityIDFromBytes(raw[:])
}

func lowercaseAddress(value interface{}) string {
	addr, ok := value.(common.Address)
	if !ok {
		return ""
	}
	return strings.ToLower(addr.Hex())
}
