// Package txservice is a client for the Safe transaction service, the
// shared off-chain store where owners exchange proposals and
// confirmations. Everything it returns is treated as an untrusted
// snapshot; digests and signatures are re-verified locally before any
// of it influences execution.
package txservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/emperorhan/safe-coordinator/internal/circuitbreaker"
	"github.com/emperorhan/safe-coordinator/internal/domain/model"
	"github.com/emperorhan/safe-coordinator/internal/metrics"
	"github.com/emperorhan/safe-coordinator/internal/queue"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// wellKnownServices maps chain ids to the hosted transaction service
// for that network.
var wellKnownServices = map[uint64]string{
	1:        "https://safe-transaction-mainnet.safe.global",
	10:       "https://safe-transaction-optimism.safe.global",
	56:       "https://safe-transaction-bsc.safe.global",
	100:      "https://safe-transaction-gnosis-chain.safe.global",
	137:      "https://safe-transaction-polygon.safe.global",
	8453:     "https://safe-transaction-base.safe.global",
	42161:    "https://safe-transaction-arbitrum.safe.global",
	43114:    "https://safe-transaction-avalanche.safe.global",
	11155111: "https://safe-transaction-sepolia.safe.global",
}

// ErrNoService is returned when no transaction service is known for a
// chain and none was configured.
var ErrNoService = fmt.Errorf("txservice: no service endpoint for chain")

// ServiceURL returns the endpoint for chainID, preferring the override
// when non-empty.
func ServiceURL(chainID uint64, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if url, ok := wellKnownServices[chainID]; ok {
		return url, nil
	}
	return "", fmt.Errorf("%w %d", ErrNoService, chainID)
}

// Client talks to one transaction service on behalf of one Safe. It
// satisfies the reconciler's PendingSource dependency.
type Client struct {
	httpClient *http.Client
	baseURL    string
	safe       common.Address
	chainID    uint64
	breaker    *circuitbreaker.Breaker
	logger     *slog.Logger
}

func NewClient(baseURL string, safe common.Address, chainID uint64, breaker *circuitbreaker.Breaker, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		safe:       safe,
		chainID:    chainID,
		breaker:    breaker,
		logger:     logger.With("component", "txservice", "safe", safe.Hex()),
	}
}

// SafeInfo fetches the service's view of the Safe: nonce, owners,
// threshold and version.
func (c *Client) SafeInfo(ctx context.Context) (*SafeInfo, error) {
	var info SafeInfo
	url := fmt.Sprintf("%s/api/v1/safes/%s/", c.baseURL, c.safe.Hex())
	if err := c.getJSON(ctx, "safe_info", url, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListTransactions returns the service's multisig transactions for the
// Safe from startNonce upward, executed and pending alike, following
// pagination to the end.
func (c *Client) ListTransactions(ctx context.Context, startNonce uint64) ([]queue.PendingRecord, error) {
	url := fmt.Sprintf("%s/api/v1/safes/%s/multisig-transactions/?nonce__gte=%d&limit=100",
		c.baseURL, c.safe.Hex(), startNonce)

	var records []queue.PendingRecord
	for url != "" {
		var page transactionPage
		if err := c.getJSON(ctx, "multisig_transactions", url, &page); err != nil {
			return nil, err
		}
		for i := range page.Results {
			rec, err := c.toPendingRecord(&page.Results[i])
			if err != nil {
				c.logger.Warn("skipping malformed service record",
					"nonce", page.Results[i].Nonce, "error", err)
				continue
			}
			records = append(records, rec)
		}
		if page.Next == nil {
			break
		}
		url = *page.Next
	}
	return records, nil
}

// Propose publishes a new transaction to the service, keyed by its
// digest, with the proposer's signature attached.
func (c *Client) Propose(ctx context.Context, tx *model.SafeTx, digest common.Hash, sender common.Address, signature []byte) error {
	var data *string
	if len(tx.Data) > 0 {
		s := hexutil.Encode(tx.Data)
		data = &s
	}
	var sig *string
	if len(signature) > 0 {
		s := hexutil.Encode(signature)
		sig = &s
	}

	req := proposeRequest{
		To:                      tx.To.Hex(),
		Value:                   tx.ValueOrZero().String(),
		Data:                    data,
		Operation:               int(tx.Operation),
		SafeTxGas:               bigString(tx.SafeTxGas),
		BaseGas:                 bigString(tx.BaseGas),
		GasPrice:                bigString(tx.GasPrice),
		GasToken:                tx.GasToken.Hex(),
		RefundReceiver:          tx.RefundReceiver.Hex(),
		Nonce:                   strconv.FormatUint(tx.Nonce, 10),
		ContractTransactionHash: digest.Hex(),
		Sender:                  sender.Hex(),
		Signature:               sig,
	}

	url := fmt.Sprintf("%s/api/v1/safes/%s/multisig-transactions/", c.baseURL, c.safe.Hex())
	return c.postJSON(ctx, "propose", url, req)
}

// Confirm publishes an additional confirmation for a known digest.
func (c *Client) Confirm(ctx context.Context, digest common.Hash, signature []byte) error {
	url := fmt.Sprintf("%s/api/v1/multisig-transactions/%s/confirmations/", c.baseURL, digest.Hex())
	return c.postJSON(ctx, "confirm", url, confirmRequest{Signature: hexutil.Encode(signature)})
}

func (c *Client) toPendingRecord(wire *MultisigTransaction) (queue.PendingRecord, error) {
	value, ok := new(big.Int).SetString(wire.Value, 10)
	if !ok {
		return queue.PendingRecord{}, fmt.Errorf("bad value %q", wire.Value)
	}
	gasPrice, ok := new(big.Int).SetString(nonEmpty(wire.GasPrice, "0"), 10)
	if !ok {
		return queue.PendingRecord{}, fmt.Errorf("bad gasPrice %q", wire.GasPrice)
	}

	var data []byte
	if wire.Data != nil && *wire.Data != "" {
		decoded, err := hexutil.Decode(*wire.Data)
		if err != nil {
			return queue.PendingRecord{}, fmt.Errorf("bad data: %w", err)
		}
		data = decoded
	}

	tx := &model.SafeTx{
		Safe:           c.safe,
		ChainID:        c.chainID,
		To:             common.HexToAddress(wire.To),
		Value:          value,
		Data:           data,
		Operation:      model.Operation(wire.Operation),
		SafeTxGas:      new(big.Int).SetUint64(wire.SafeTxGas),
		BaseGas:        new(big.Int).SetUint64(wire.BaseGas),
		GasPrice:       gasPrice,
		GasToken:       common.HexToAddress(wire.GasToken),
		RefundReceiver: common.HexToAddress(wire.RefundReceiver),
		Nonce:          wire.Nonce,
	}
	if !tx.Operation.Valid() {
		return queue.PendingRecord{}, fmt.Errorf("bad operation %d", wire.Operation)
	}

	rec := queue.PendingRecord{
		Tx:            tx,
		ClaimedDigest: common.HexToHash(wire.SafeTxHash),
		IsExecuted:    wire.IsExecuted,
	}
	for _, conf := range wire.Confirmations {
		sig, err := toSignature(conf)
		if err != nil {
			c.logger.Warn("skipping malformed confirmation",
				"owner", conf.Owner, "error", err)
			continue
		}
		rec.Confirmations = append(rec.Confirmations, sig)
	}
	return rec, nil
}

func toSignature(wire Confirmation) (model.Signature, error) {
	raw, err := hexutil.Decode(wire.Signature)
	if err != nil {
		return model.Signature{}, fmt.Errorf("bad signature hex: %w", err)
	}
	sigType := model.SignatureType(wire.SignatureType)
	switch sigType {
	case model.SignatureTypeEOA, model.SignatureTypeEthSign,
		model.SignatureTypeApprovedHash, model.SignatureTypeContract:
	default:
		return model.Signature{}, fmt.Errorf("unknown signature type %q", wire.SignatureType)
	}
	return model.Signature{
		Signer: common.HexToAddress(wire.Owner),
		Type:   sigType,
		Bytes:  raw,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, url string, out interface{}) error {
	return c.do(ctx, endpoint, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

func (c *Client) postJSON(ctx context.Context, endpoint, url string, payload interface{}) error {
	return c.do(ctx, endpoint, func() error {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			respBody, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("http status %d: %s", resp.StatusCode, string(respBody))
		}
		return nil
	})
}

func (c *Client) do(ctx context.Context, endpoint string, fn func() error) error {
	var err error
	if c.breaker != nil {
		err = c.breaker.Do(fn)
	} else {
		err = fn()
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.TxServiceRequestsTotal.WithLabelValues(endpoint, status).Inc()
	return err
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
