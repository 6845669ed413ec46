package application

import (
	"math/big"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/escrownet/escrowd/internal/core/domain"
)

// timeFormat is the persistence form of transaction creation times.
const timeFormat = time.RFC3339

// entityStoreKey joins an entity's ID and chain ID into the composite key
// used by both the truth sources and the persistent store.
func entityStoreKey(entityID, chainID string) string {
	return entityID + "/" + chainID
}

func splitKey(key string) (entityID, chainID string) {
	entityID, chainID, _ = strings.Cut(key, "/")
	return
}

// approvalAmount is the token allowance needed before opening or taking an
// offer: the amount ceiling plus the security deposit plus the largest
// possible service fee on that ceiling.
func approvalAmount(amount, securityDeposit, serviceFeeRate *big.Int) *big.Int {
	total := new(big.Int).Add(amount, securityDeposit)
	return total.Add(total, serviceFeeOn(amount, serviceFeeRate))
}

// serviceFeeOn returns the protocol fee charged on the given amount at the
// given rate.
func serviceFeeOn(amount, serviceFeeRate *big.Int) *big.Int {
	fee := new(big.Int).Mul(amount, serviceFeeRate)
	return fee.Div(fee, serviceFeeRateDenominator)
}

func onChainSettlementMethods(methods []domain.SettlementMethod) [][]byte {
	encoded := make([][]byte, 0, len(methods))
	for _, method := range methods {
		encoded = append(encoded, method.OnChainData())
	}
	return encoded
}

func decodeOnChainSettlementMethods(data [][]byte) []domain.SettlementMethod {
	methods := make([]domain.SettlementMethod, 0, len(data))
	for _, raw := range data {
		method, err := domain.SettlementMethodFromOnChainData(raw)
		if err != nil {
			log.WithError(err).Warn("skipping malformed on-chain settlement method")
			continue
		}
		methods = append(methods, method)
	}
	return methods
}

func containsSettlementMethod(
	methods []domain.SettlementMethod, candidate domain.SettlementMethod,
) bool {
	want := string(candidate.OnChainData())
	for _, method := range methods {
		if string(method.OnChainData()) == want {
			return true
		}
	}
	return false
}

// takerRole is the role of the user taking an offer of the given direction:
// taking a sell offer makes them the buyer.
func takerRole(direction domain.OfferDirection) domain.SwapRole {
	if direction == domain.OfferDirectionSell {
		return domain.SwapRoleTakerAndBuyer
	}
	return domain.SwapRoleTakerAndSeller
}

// makerRole is the maker-side counterpart of takerRole.
func makerRole(direction domain.OfferDirection) domain.SwapRole {
	if direction == domain.OfferDirectionSell {
		return domain.SwapRoleMakerAndSeller
	}
	return domain.SwapRoleMakerAndBuyer
}
