package dbbadger

import (
	"encoding/base64"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/escrownet/escrowd/internal/core/domain"
	"github.com/escrownet/escrowd/pkg/crypto"
)

// entityKey builds the composite store key of an entity: its ID as Base64 of
// the raw bytes and the chain ID as decimal string.
func entityKey(entityID, chainID string) string {
	return entityID + "/" + chainID
}

func encodeEntityID(id uuid.UUID) string {
	return base64.StdEncoding.EncodeToString(id[:])
}

// actionRecord is the persisted form of a domain.Action. The error that put
// an action into its exception state is surfaced in memory only, the state
// marker alone is persisted.
type actionRecord struct {
	State   string
	TxHash  string
	TxTime  time.Time
	TxBlock *big.Int
	TxType  string
}

func actionToRecord(a domain.Action) actionRecord {
	record := actionRecord{State: a.State.String()}
	if a.Transaction != nil {
		record.TxHash = a.Transaction.Hash
		record.TxTime = a.Transaction.TimeOfCreation
		record.TxBlock = a.Transaction.LatestBlockNumberAtCreation
		record.TxType = a.Transaction.Type.String()
	}
	return record
}

func actionFromRecord(record actionRecord, txType domain.TransactionType) domain.Action {
	action := domain.Action{State: domain.ActionStateFromString(record.State)}
	if record.TxHash != "" {
		if stored, ok := domain.TransactionTypeFromString(record.TxType); ok {
			txType = stored
		}
		action.Transaction = &domain.BlockchainTransaction{
			Hash:                        record.TxHash,
			TimeOfCreation:              record.TxTime,
			LatestBlockNumberAtCreation: record.TxBlock,
			Type:                        txType,
		}
	}
	return action
}

// actionKey is the map key a transaction type's action is stored under.
// The two approve types share an offer's single approving action.
func actionKey(txType domain.TransactionType) string {
	if txType == domain.TxTypeApproveTransferToTakeOffer {
		txType = domain.TxTypeApproveTransferToOpenOffer
	}
	return txType.String()
}

func setActionTransactionData(
	record *actionRecord, txType domain.TransactionType,
	txHash string, txTime time.Time, blockNumber int64,
) {
	record.TxHash = txHash
	record.TxTime = txTime
	record.TxBlock = big.NewInt(blockNumber)
	record.TxType = txType.String()
}

// settlementMethodRecord persists a settlement method including its private
// data, which the wire encoding of domain.SettlementMethod deliberately
// omits.
type settlementMethodRecord struct {
	Currency    string
	Price       string
	Method      string
	PrivateData string
}

func settlementMethodsToRecords(methods []domain.SettlementMethod) []settlementMethodRecord {
	records := make([]settlementMethodRecord, 0, len(methods))
	for _, m := range methods {
		records = append(records, settlementMethodRecord{
			Currency:    m.Currency,
			Price:       m.Price,
			Method:      m.Method,
			PrivateData: m.PrivateData,
		})
	}
	return records
}

func settlementMethodsFromRecords(records []settlementMethodRecord) []domain.SettlementMethod {
	methods := make([]domain.SettlementMethod, 0, len(records))
	for _, r := range records {
		methods = append(methods, domain.SettlementMethod{
			Currency:    r.Currency,
			Price:       r.Price,
			Method:      r.Method,
			PrivateData: r.PrivateData,
		})
	}
	return methods
}

type settlementMethodsRecord struct {
	Key     string
	Methods []settlementMethodRecord
}

type pendingSettlementMethodsRecord struct {
	Key     string
	Methods []settlementMethodRecord
}

type offerRecord struct {
	Key               string
	ID                uuid.UUID
	ChainID           *big.Int
	IsCreated         bool
	IsTaken           bool
	Maker             string
	InterfaceID       []byte
	Stablecoin        string
	AmountLowerBound  *big.Int
	AmountUpperBound  *big.Int
	SecurityDeposit   *big.Int
	ServiceFeeRate    *big.Int
	Direction         int
	SettlementMethods []settlementMethodRecord
	ProtocolVersion   *big.Int
	HavePublicKey     bool
	IsUserMaker       bool
	State             string
	Actions           map[string]actionRecord

	PendingSettlementMethods []settlementMethodRecord
}

// Both approve transaction types share the offer's single approving action,
// so only one of them appears here. The stored TxType disambiguates on
// restore.
var offerActionTypes = []domain.TransactionType{
	domain.TxTypeApproveTransferToOpenOffer,
	domain.TxTypeOpenOffer,
	domain.TxTypeCancelOffer,
	domain.TxTypeEditOffer,
	domain.TxTypeTakeOffer,
}

func offerToRecord(key string, o *domain.Offer) *offerRecord {
	record := &offerRecord{
		Key:               key,
		ID:                o.ID,
		ChainID:           o.ChainID,
		IsCreated:         o.IsCreated,
		IsTaken:           o.IsTaken,
		Maker:             o.Maker,
		InterfaceID:       o.InterfaceID,
		Stablecoin:        o.Stablecoin,
		AmountLowerBound:  o.AmountLowerBound,
		AmountUpperBound:  o.AmountUpperBound,
		SecurityDeposit:   o.SecurityDeposit,
		ServiceFeeRate:    o.ServiceFeeRate,
		Direction:         int(o.Direction),
		SettlementMethods: settlementMethodsToRecords(o.SettlementMethods),
		ProtocolVersion:   o.ProtocolVersion,
		HavePublicKey:     o.HavePublicKey,
		IsUserMaker:       o.IsUserMaker,
		State:             o.State.String(),
		Actions:           make(map[string]actionRecord),
	}
	if len(o.PendingSettlementMethods) > 0 {
		record.PendingSettlementMethods = settlementMethodsToRecords(o.PendingSettlementMethods)
	}
	for _, txType := range offerActionTypes {
		record.Actions[txType.String()] = actionToRecord(*o.ActionFor(txType))
	}
	return record
}

func offerFromRecord(record *offerRecord) *domain.Offer {
	state, _ := domain.OfferStateFromString(record.State)
	offer := &domain.Offer{
		ID:                record.ID,
		ChainID:           record.ChainID,
		IsCreated:         record.IsCreated,
		IsTaken:           record.IsTaken,
		Maker:             record.Maker,
		InterfaceID:       record.InterfaceID,
		Stablecoin:        record.Stablecoin,
		AmountLowerBound:  record.AmountLowerBound,
		AmountUpperBound:  record.AmountUpperBound,
		SecurityDeposit:   record.SecurityDeposit,
		ServiceFeeRate:    record.ServiceFeeRate,
		Direction:         domain.OfferDirection(record.Direction),
		SettlementMethods: settlementMethodsFromRecords(record.SettlementMethods),
		ProtocolVersion:   record.ProtocolVersion,
		HavePublicKey:     record.HavePublicKey,
		IsUserMaker:       record.IsUserMaker,
		State:             state,
	}
	if len(record.PendingSettlementMethods) > 0 {
		offer.PendingSettlementMethods = settlementMethodsFromRecords(record.PendingSettlementMethods)
	}
	for _, txType := range offerActionTypes {
		if stored, ok := record.Actions[txType.String()]; ok {
			*offer.ActionFor(txType) = actionFromRecord(stored, txType)
		}
	}
	return offer
}

type swapRecord struct {
	Key               string
	ID                uuid.UUID
	ChainID           *big.Int
	IsCreated         bool
	RequiresFill      bool
	Maker             string
	MakerInterfaceID  []byte
	Taker             string
	TakerInterfaceID  []byte
	Stablecoin        string
	AmountLowerBound  *big.Int
	AmountUpperBound  *big.Int
	SecurityDeposit   *big.Int
	TakenSwapAmount   *big.Int
	ServiceFeeAmount  *big.Int
	ServiceFeeRate    *big.Int
	Direction         int
	SettlementMethod  settlementMethodRecord
	ProtocolVersion   *big.Int
	IsPaymentSent     bool
	IsPaymentReceived bool
	HasBuyerClosed    bool
	HasSellerClosed   bool
	DisputeRaiser     *big.Int
	Role              int
	State             string
	MakerPrivateData  string
	TakerPrivateData  string
	Actions           map[string]actionRecord
	DisputeState      string
}

var swapActionTypes = []domain.TransactionType{
	domain.TxTypeApproveTransferToFillSwap,
	domain.TxTypeFillSwap,
	domain.TxTypeReportPaymentSent,
	domain.TxTypeReportPaymentReceived,
	domain.TxTypeCloseSwap,
	domain.TxTypeRaiseDispute,
}

func swapToRecord(key string, s *domain.Swap) *swapRecord {
	record := &swapRecord{
		Key:              key,
		ID:               s.ID,
		ChainID:          s.ChainID,
		IsCreated:        s.IsCreated,
		RequiresFill:     s.RequiresFill,
		Maker:            s.Maker,
		MakerInterfaceID: s.MakerInterfaceID,
		Taker:            s.Taker,
		TakerInterfaceID: s.TakerInterfaceID,
		Stablecoin:       s.Stablecoin,
		AmountLowerBound: s.AmountLowerBound,
		AmountUpperBound: s.AmountUpperBound,
		SecurityDeposit:  s.SecurityDeposit,
		TakenSwapAmount:  s.TakenSwapAmount,
		ServiceFeeAmount: s.ServiceFeeAmount,
		ServiceFeeRate:   s.ServiceFeeRate,
		Direction:        int(s.Direction),
		SettlementMethod: settlementMethodRecord{
			Currency:    s.SettlementMethod.Currency,
			Price:       s.SettlementMethod.Price,
			Method:      s.SettlementMethod.Method,
			PrivateData: s.SettlementMethod.PrivateData,
		},
		ProtocolVersion:   s.ProtocolVersion,
		IsPaymentSent:     s.IsPaymentSent,
		IsPaymentReceived: s.IsPaymentReceived,
		HasBuyerClosed:    s.HasBuyerClosed,
		HasSellerClosed:   s.HasSellerClosed,
		DisputeRaiser:     s.OnChainDisputeRaiser,
		Role:              int(s.Role),
		State:             s.State.String(),
		MakerPrivateData:  s.MakerPrivateData,
		TakerPrivateData:  s.TakerPrivateData,
		Actions:           make(map[string]actionRecord),
		DisputeState:      s.DisputeState.String(),
	}
	for _, txType := range swapActionTypes {
		record.Actions[txType.String()] = actionToRecord(*s.ActionFor(txType))
	}
	return record
}

func swapFromRecord(record *swapRecord) *domain.Swap {
	state, _ := domain.SwapStateFromString(record.State)
	swap := &domain.Swap{
		ID:               record.ID,
		ChainID:          record.ChainID,
		IsCreated:        record.IsCreated,
		RequiresFill:     record.RequiresFill,
		Maker:            record.Maker,
		MakerInterfaceID: record.MakerInterfaceID,
		Taker:            record.Taker,
		TakerInterfaceID: record.TakerInterfaceID,
		Stablecoin:       record.Stablecoin,
		AmountLowerBound: record.AmountLowerBound,
		AmountUpperBound: record.AmountUpperBound,
		SecurityDeposit:  record.SecurityDeposit,
		TakenSwapAmount:  record.TakenSwapAmount,
		ServiceFeeAmount: record.ServiceFeeAmount,
		ServiceFeeRate:   record.ServiceFeeRate,
		Direction:        domain.OfferDirection(record.Direction),
		SettlementMethod: domain.SettlementMethod{
			Currency:    record.SettlementMethod.Currency,
			Price:       record.SettlementMethod.Price,
			Method:      record.SettlementMethod.Method,
			PrivateData: record.SettlementMethod.PrivateData,
		},
		ProtocolVersion:      record.ProtocolVersion,
		IsPaymentSent:        record.IsPaymentSent,
		IsPaymentReceived:    record.IsPaymentReceived,
		HasBuyerClosed:       record.HasBuyerClosed,
		HasSellerClosed:      record.HasSellerClosed,
		OnChainDisputeRaiser: record.DisputeRaiser,
		Role:                 domain.SwapRole(record.Role),
		State:                state,
		MakerPrivateData:     record.MakerPrivateData,
		TakerPrivateData:     record.TakerPrivateData,
		DisputeState:         domain.DisputeStateFromString(record.DisputeState),
	}
	for _, txType := range swapActionTypes {
		if stored, ok := record.Actions[txType.String()]; ok {
			*swap.ActionFor(txType) = actionFromRecord(stored, txType)
		}
	}
	return swap
}

type swapAndDisputeRecord struct {
	Key                     string
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
	Direction               int
	OnChainSettlementMethod []byte
	ProtocolVersion         *big.Int
	IsPaymentSent           bool
	IsPaymentReceived       bool
	HasBuyerClosed          bool
	HasSellerClosed         bool
	DisputeRaiser           *big.Int

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
	MatchingProposals        *big.Int
	MakerReaction            *big.Int
	TakerReaction            *big.Int
	OnChainState             *big.Int
	HasMakerPaidOut          bool
	HasTakerPaidOut          bool

	TotalWithoutSpentServiceFees *big.Int

	Role                  int
	State                 string
	Agent0InterfaceID     []byte
	MakerCommunicationKey []byte
	TakerCommunicationKey []byte
	AgentCommunicationKey []byte
}

func swapAndDisputeToRecord(key string, s *domain.SwapAndDispute) *swapAndDisputeRecord {
	record := &swapAndDisputeRecord{
		Key:                          key,
		ID:                           s.ID,
		ChainID:                      s.ChainID,
		IsCreated:                    s.IsCreated,
		RequiresFill:                 s.RequiresFill,
		Maker:                        s.Maker,
		MakerInterfaceID:             s.MakerInterfaceID,
		Taker:                        s.Taker,
		TakerInterfaceID:             s.TakerInterfaceID,
		Stablecoin:                   s.Stablecoin,
		AmountLowerBound:             s.AmountLowerBound,
		AmountUpperBound:             s.AmountUpperBound,
		SecurityDeposit:              s.SecurityDeposit,
		TakenSwapAmount:              s.TakenSwapAmount,
		ServiceFeeAmount:             s.ServiceFeeAmount,
		ServiceFeeRate:               s.ServiceFeeRate,
		Direction:                    int(s.Direction),
		OnChainSettlementMethod:      s.OnChainSettlementMethod,
		ProtocolVersion:              s.ProtocolVersion,
		IsPaymentSent:                s.IsPaymentSent,
		IsPaymentReceived:            s.IsPaymentReceived,
		HasBuyerClosed:               s.HasBuyerClosed,
		HasSellerClosed:              s.HasSellerClosed,
		DisputeRaiser:                s.OnChainDisputeRaiser,
		DisputeRaisedBlockNumber:     s.DisputeRaisedBlockNumber,
		DisputeAgent0:                s.DisputeAgent0,
		DisputeAgent1:                s.DisputeAgent1,
		DisputeAgent2:                s.DisputeAgent2,
		HasAgent0Proposed:            s.HasAgent0Proposed,
		Agent0MakerPayout:            s.Agent0MakerPayout,
		Agent0TakerPayout:            s.Agent0TakerPayout,
		Agent0ConfiscationPayout:     s.Agent0ConfiscationPayout,
		HasAgent1Proposed:            s.HasAgent1Proposed,
		Agent1MakerPayout:            s.Agent1MakerPayout,
		Agent1TakerPayout:            s.Agent1TakerPayout,
		Agent1ConfiscationPayout:     s.Agent1ConfiscationPayout,
		HasAgent2Proposed:            s.HasAgent2Proposed,
		Agent2MakerPayout:            s.Agent2MakerPayout,
		Agent2TakerPayout:            s.Agent2TakerPayout,
		Agent2ConfiscationPayout:     s.Agent2ConfiscationPayout,
		MatchingProposals:            s.OnChainMatchingProposals,
		MakerReaction:                s.MakerReaction,
		TakerReaction:                s.TakerReaction,
		OnChainState:                 s.OnChainState,
		HasMakerPaidOut:              s.HasMakerPaidOut,
		HasTakerPaidOut:              s.HasTakerPaidOut,
		TotalWithoutSpentServiceFees: s.TotalWithoutSpentServiceFees,
		Role:                         int(s.Role),
		State:                        s.State.String(),
		Agent0InterfaceID:            s.Agent0InterfaceID,
	}
	if s.MakerCommunicationKey != nil {
		record.MakerCommunicationKey = s.MakerCommunicationKey.Bytes
	}
	if s.TakerCommunicationKey != nil {
		record.TakerCommunicationKey = s.TakerCommunicationKey.Bytes
	}
	if s.AgentCommunicationKey != nil {
		record.AgentCommunicationKey = s.AgentCommunicationKey.Bytes
	}
	return record
}

func swapAndDisputeFromRecord(record *swapAndDisputeRecord) (*domain.SwapAndDispute, error) {
	sad := &domain.SwapAndDispute{
		ID:                           record.ID,
		ChainID:                      record.ChainID,
		IsCreated:                    record.IsCreated,
		RequiresFill:                 record.RequiresFill,
		Maker:                        record.Maker,
		MakerInterfaceID:             record.MakerInterfaceID,
		Taker:                        record.Taker,
		TakerInterfaceID:             record.TakerInterfaceID,
		Stablecoin:                   record.Stablecoin,
		AmountLowerBound:             record.AmountLowerBound,
		AmountUpperBound:             record.AmountUpperBound,
		SecurityDeposit:              record.SecurityDeposit,
		TakenSwapAmount:              record.TakenSwapAmount,
		ServiceFeeAmount:             record.ServiceFeeAmount,
		ServiceFeeRate:               record.ServiceFeeRate,
		Direction:                    domain.OfferDirection(record.Direction),
		OnChainSettlementMethod:      record.OnChainSettlementMethod,
		ProtocolVersion:              record.ProtocolVersion,
		IsPaymentSent:                record.IsPaymentSent,
		IsPaymentReceived:            record.IsPaymentReceived,
		HasBuyerClosed:               record.HasBuyerClosed,
		HasSellerClosed:              record.HasSellerClosed,
		OnChainDisputeRaiser:         record.DisputeRaiser,
		DisputeRaisedBlockNumber:     record.DisputeRaisedBlockNumber,
		DisputeAgent0:                record.DisputeAgent0,
		DisputeAgent1:                record.DisputeAgent1,
		DisputeAgent2:                record.DisputeAgent2,
		HasAgent0Proposed:            record.HasAgent0Proposed,
		Agent0MakerPayout:            record.Agent0MakerPayout,
		Agent0TakerPayout:            record.Agent0TakerPayout,
		Agent0ConfiscationPayout:     record.Agent0ConfiscationPayout,
		HasAgent1Proposed:            record.HasAgent1Proposed,
		Agent1MakerPayout:            record.Agent1MakerPayout,
		Agent1TakerPayout:            record.Agent1TakerPayout,
		Agent1ConfiscationPayout:     record.Agent1ConfiscationPayout,
		HasAgent2Proposed:            record.HasAgent2Proposed,
		Agent2MakerPayout:            record.Agent2MakerPayout,
		Agent2TakerPayout:            record.Agent2TakerPayout,
		Agent2ConfiscationPayout:     record.Agent2ConfiscationPayout,
		OnChainMatchingProposals:     record.MatchingProposals,
		MakerReaction:                record.MakerReaction,
		TakerReaction:                record.TakerReaction,
		OnChainState:                 record.OnChainState,
		HasMakerPaidOut:              record.HasMakerPaidOut,
		HasTakerPaidOut:              record.HasTakerPaidOut,
		TotalWithoutSpentServiceFees: record.TotalWithoutSpentServiceFees,
		Role:                         domain.DisputeRole(record.Role),
		State:                        domain.DisputeStateAsAgentFromString(record.State),
		Agent0InterfaceID:            record.Agent0InterfaceID,
	}
	var err error
	if len(record.MakerCommunicationKey) > 0 {
		if sad.MakerCommunicationKey, err = crypto.SymmetricKeyFromBytes(record.MakerCommunicationKey); err != nil {
			return nil, err
		}
	}
	if len(record.TakerCommunicationKey) > 0 {
		if sad.TakerCommunicationKey, err = crypto.SymmetricKeyFromBytes(record.TakerCommunicationKey); err != nil {
			return nil, err
		}
	}
	if len(record.AgentCommunicationKey) > 0 {
		if sad.AgentCommunicationKey, err = crypto.SymmetricKeyFromBytes(record.AgentCommunicationKey); err != nil {
			return nil, err
		}
	}
	return sad, nil
}

type keyPairRecord struct {
	InterfaceID string
	PublicKey   string
	PrivateKey  string
}

type publicKeyRecord struct {
	InterfaceID string
	PublicKey   string
}
