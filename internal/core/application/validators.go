package application

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/escrownet/escrowd/internal/core/domain"
)

// serviceFeeRateDenominator converts the on-chain fee rate (hundredths of a
// percent) into an amount.
var serviceFeeRateDenominator = big.NewInt(10000)

// NewOfferData is the user-supplied description of an offer to open.
// Amounts are given in the stablecoin's nominal unit and converted to base
// units during validation.
type NewOfferData struct {
	Stablecoin            string
	StablecoinDecimals    int32
	MinimumAmount         decimal.Decimal
	MaximumAmount         decimal.Decimal
	SecurityDepositAmount decimal.Decimal
	Direction             domain.OfferDirection
	SettlementMethods     []domain.SettlementMethod
}

type validatedNewOfferData struct {
	stablecoin        string
	amountLowerBound  *big.Int
	amountUpperBound  *big.Int
	securityDeposit   *big.Int
	serviceFeeRate    *big.Int
	direction         domain.OfferDirection
	settlementMethods []domain.SettlementMethod
}

func validateNewOfferData(
	data NewOfferData, serviceFeeRate *big.Int,
) (*validatedNewOfferData, error) {
	if !common.IsHexAddress(data.Stablecoin) {
		return nil, domain.NewValidationError("the stablecoin address is not valid")
	}
	lowerBound, err := toBaseUnits(data.MinimumAmount, data.StablecoinDecimals)
	if err != nil {
		return nil, err
	}
	upperBound, err := toBaseUnits(data.MaximumAmount, data.StablecoinDecimals)
	if err != nil {
		return nil, err
	}
	securityDeposit, err := toBaseUnits(data.SecurityDepositAmount, data.StablecoinDecimals)
	if err != nil {
		return nil, err
	}
	if lowerBound.Sign() <= 0 {
		return nil, domain.NewValidationError("the minimum amount must be positive")
	}
	if upperBound.Cmp(lowerBound) < 0 {
		return nil, domain.NewValidationError(
			"the maximum amount must not be less than the minimum amount",
		)
	}
	tenPercentOfMax := new(big.Int).Div(upperBound, big.NewInt(10))
	if securityDeposit.Cmp(tenPercentOfMax) < 0 {
		return nil, domain.NewValidationError(
			"the security deposit must be at least 10% of the maximum amount",
		)
	}
	minimumFee := new(big.Int).Mul(lowerBound, serviceFeeRate)
	minimumFee.Div(minimumFee, serviceFeeRateDenominator)
	if serviceFeeRate.Sign() > 0 && minimumFee.Sign() <= 0 {
		return nil, domain.NewValidationError(
			"the minimum amount is too small to incur a service fee",
		)
	}
	if err := validateSettlementMethods(data.SettlementMethods); err != nil {
		return nil, err
	}
	return &validatedNewOfferData{
		stablecoin:        data.Stablecoin,
		amountLowerBound:  lowerBound,
		amountUpperBound:  upperBound,
		securityDeposit:   securityDeposit,
		serviceFeeRate:    new(big.Int).Set(serviceFeeRate),
		direction:         data.Direction,
		settlementMethods: data.SettlementMethods,
	}, nil
}

func validateSettlementMethods(methods []domain.SettlementMethod) error {
	if len(methods) == 0 {
		return domain.NewValidationError("at least one settlement method is required")
	}
	for _, m := range methods {
		if m.Currency == "" || m.Method == "" {
			return domain.NewValidationError(
				"every settlement method needs a currency and a method",
			)
		}
		if _, err := decimal.NewFromString(m.Price); err != nil {
			return domain.NewValidationError(
				"the price of settlement method " + m.Method + " is not a number",
			)
		}
		if m.PrivateData == "" {
			return domain.NewValidationError(
				"settlement method " + m.Method + " has no private data",
			)
		}
	}
	return nil
}

// toBaseUnits converts a nominal-unit amount into stablecoin base units,
// rejecting amounts with more fractional digits than the token carries.
func toBaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	shifted := amount.Shift(decimals)
	if !shifted.IsInteger() {
		return nil, domain.NewValidationError(
			"amount " + amount.String() + " has too many decimal places",
		)
	}
	return shifted.BigInt(), nil
}
