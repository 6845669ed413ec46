package domain

import "encoding/json"

// SettlementMethod describes an off-chain payment rail offered or chosen for
// a trade: its fiat currency, the rail itself (for example "SEPA" or
// "SWIFT"), the maker's price in that currency, and the account details the
// counterparty needs in order to pay. PrivateData is never published
// on-chain and travels between peers only inside encrypted messages.
type SettlementMethod struct {
	Currency    string `json:"f"`
	Price       string `json:"p"`
	Method      string `json:"m"`
	PrivateData string `json:"-"`
}

// OnChainData returns the canonical JSON encoding of the settlement method's
// public fields, the form in which it appears in on-chain offer records.
func (s SettlementMethod) OnChainData() []byte {
	data, _ := json.Marshal(s)
	return data
}

// SettlementMethodFromOnChainData decodes a settlement method from its
// on-chain JSON encoding.
func SettlementMethodFromOnChainData(data []byte) (SettlementMethod, error) {
	var s SettlementMethod
	err := json.Unmarshal(data, &s)
	return s, err
}

// PrivateSEPAData is the private data of a SEPA settlement method.
type PrivateSEPAData struct {
	Holder  string `json:"accountHolder"`
	BIC     string `json:"bic"`
	IBAN    string `json:"iban"`
	Address string `json:"address"`
}

// PrivateSWIFTData is the private data of a SWIFT settlement method.
type PrivateSWIFTData struct {
	Holder        string `json:"accountHolder"`
	BIC           string `json:"bic"`
	AccountNumber string `json:"accountNumber"`
}
