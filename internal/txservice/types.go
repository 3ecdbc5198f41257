package txservice

// Wire types for the Safe transaction service REST API. Numeric uint256
// fields travel as decimal strings; byte fields as 0x-prefixed hex.

type SafeInfo struct {
	Address   string   `json:"address"`
	Nonce     uint64   `json:"nonce"`
	Threshold uint64   `json:"threshold"`
	Owners    []string `json:"owners"`
	Version   string   `json:"version"`
}

type Confirmation struct {
	Owner         string `json:"owner"`
	Signature     string `json:"signature"`
	SignatureType string `json:"signatureType"`
}

type MultisigTransaction struct {
	Safe           string         `json:"safe"`
	To             string         `json:"to"`
	Value          string         `json:"value"`
	Data           *string        `json:"data"`
	Operation      int            `json:"operation"`
	SafeTxGas      uint64         `json:"safeTxGas"`
	BaseGas        uint64         `json:"baseGas"`
	GasPrice       string         `json:"gasPrice"`
	GasToken       string         `json:"gasToken"`
	RefundReceiver string         `json:"refundReceiver"`
	Nonce          uint64         `json:"nonce"`
	SafeTxHash     string         `json:"safeTxHash"`
	IsExecuted     bool           `json:"isExecuted"`
	Confirmations  []Confirmation `json:"confirmations"`
}

type transactionPage struct {
	Count   int                   `json:"count"`
	Next    *string               `json:"next"`
	Results []MultisigTransaction `json:"results"`
}

// proposeRequest is the POST body for a new multisig transaction.
type proposeRequest struct {
	To                      string  `json:"to"`
	Value                   string  `json:"value"`
	Data                    *string `json:"data"`
	Operation               int     `json:"operation"`
	SafeTxGas               string  `json:"safeTxGas"`
	BaseGas                 string  `json:"baseGas"`
	GasPrice                string  `json:"gasPrice"`
	GasToken                string  `json:"gasToken"`
	RefundReceiver          string  `json:"refundReceiver"`
	Nonce                   string  `json:"nonce"`
	ContractTransactionHash string  `json:"contractTransactionHash"`
	Sender                  string  `json:"sender"`
	Signature               *string `json:"signature,omitempty"`
	Origin                  string  `json:"origin,omitempty"`
}

type confirmRequest struct {
	Signature string `json:"signature"`
}
