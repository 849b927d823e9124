// Package aptos implements chain.Client on top of the Aptos Go SDK.
package aptos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	aptossdk "github.com/aptos-labs/aptos-go-sdk"
	"github.com/aptos-labs/aptos-go-sdk/api"
	"github.com/aptos-labs/aptos-go-sdk/bcs"

	"CoSign-Chain/internal/chain"
	"CoSign-Chain/internal/codec"
	xerrors "CoSign-Chain/internal/errors"
	"CoSign-Chain/internal/txn"
)

const (
	defaultTimeout        = 30 * time.Second
	accountResourceType   = "0x1::account::Account"
	coinStoreResourceType = "0x1::coin::CoinStore"
)

// Config describes how to reach a node.
type Config struct {
	Name    string
	RESTURL string
	// ChainID pins the chain id; zero means ask the node once and cache it.
	ChainID uint8
	Timeout time.Duration
	Notes   string
}

// node mirrors the subset of the SDK client the adapter needs.
type node interface {
	Info() (aptossdk.NodeInfo, error)
	AccountResource(address aptossdk.AccountAddress, resourceType string, ledgerVersion ...uint64) (map[string]any, error)
	SubmitTransaction(signed *aptossdk.SignedTransaction) (*api.SubmitTransactionResponse, error)
	TransactionByHash(txnHash string) (*api.Transaction, error)
}

// Client implements chain.Client for one Aptos node.
type Client struct {
	name       string
	notes      string
	baseURL    string
	httpClient *http.Client
	node       node

	mu      sync.Mutex
	chainID uint8
}

var _ chain.Client = (*Client)(nil)

// NewClient validates cfg and wraps an SDK client. No request is made.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.RESTURL), "/")
	if baseURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置节点 REST 地址")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "节点 REST 地址无效")
	}
	if !strings.HasSuffix(baseURL, "/v1") {
		baseURL += "/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := &http.Client{Timeout: timeout}
	sdk, err := aptossdk.NewClient(aptossdk.NetworkConfig{
		Name:    cfg.Name,
		ChainId: cfg.ChainID,
		NodeUrl: baseURL,
	}, httpClient)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "创建 Aptos 客户端失败")
	}
	return &Client{
		name:       cfg.Name,
		notes:      cfg.Notes,
		baseURL:    baseURL,
		httpClient: httpClient,
		node:       sdk,
		chainID:    cfg.ChainID,
	}, nil
}

// Name returns the configured chain name.
func (c *Client) Name() string { return c.name }

// ChainID returns the pinned chain id or fetches it from the ledger info.
func (c *Client) ChainID(ctx context.Context) (uint8, error) {
	c.mu.Lock()
	cached := c.chainID
	c.mu.Unlock()
	if cached != 0 {
		return cached, nil
	}

	info, err := call(ctx, c.node.Info)
	if err != nil {
		return 0, nodeError(ctx, err)
	}
	if info.ChainId == 0 {
		return 0, xerrors.New(xerrors.CodeChainUnavailable, "节点未返回 chain_id")
	}
	c.mu.Lock()
	c.chainID = info.ChainId
	c.mu.Unlock()
	return info.ChainId, nil
}

// SequenceNumber returns the account's next sequence number.
func (c *Client) SequenceNumber(ctx context.Context, addr codec.AccountAddress) (uint64, error) {
	info, err := c.AccountInfo(ctx, addr)
	if err != nil {
		return 0, err
	}
	return info.SequenceNumber, nil
}

// AccountInfo reads the 0x1::account::Account resource.
func (c *Client) AccountInfo(ctx context.Context, addr codec.AccountAddress) (chain.AccountInfo, error) {
	var data struct {
		SequenceNumber    string `json:"sequence_number"`
		AuthenticationKey string `json:"authentication_key"`
	}
	err := c.resource(ctx, addr, accountResourceType, &data)
	if xerrors.HasCode(err, xerrors.CodeNotFound) {
		return chain.AccountInfo{}, xerrors.Wrap(chain.CodeAccountNotFound, err, fmt.Sprintf("账户 %s 不存在", addr))
	}
	if err != nil {
		return chain.AccountInfo{}, err
	}
	seq, err := strconv.ParseUint(data.SequenceNumber, 10, 64)
	if err != nil {
		return chain.AccountInfo{}, xerrors.Wrap(xerrors.CodeChainUnavailable, err, "解析 sequence_number 失败")
	}
	return chain.AccountInfo{Address: addr, SequenceNumber: seq, AuthenticationKey: data.AuthenticationKey}, nil
}

// Balance returns the coin balance held in the account's CoinStore.
func (c *Client) Balance(ctx context.Context, addr codec.AccountAddress, coinType string) (uint64, error) {
	var data struct {
		Coin struct {
			Value string `json:"value"`
		} `json:"coin"`
	}
	if err := c.resource(ctx, addr, coinStoreType(coinType), &data); err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(data.Coin.Value, 10, 64)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeChainUnavailable, err, "解析余额失败")
	}
	return v, nil
}

// IsRegistered reports whether the account holds a CoinStore for coinType.
func (c *Client) IsRegistered(ctx context.Context, addr codec.AccountAddress, coinType string) (bool, error) {
	err := c.resource(ctx, addr, coinStoreType(coinType), nil)
	switch {
	case err == nil:
		return true, nil
	case xerrors.HasCode(err, xerrors.CodeNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Submit serializes the signed transaction, hands it to the SDK as a
// SignedTransaction and posts it. Errors carry chain.MetaDelivery so the
// caller can tell a transaction that never left from one that may be on chain.
func (c *Client) Submit(ctx context.Context, raw txn.MultiAgentRawTransaction, payer txn.Authenticator, senders []txn.Authenticator) (string, error) {
	body, err := txn.SignedTransaction(raw, payer, senders)
	if err != nil {
		return "", err
	}
	signed := &aptossdk.SignedTransaction{}
	if err := bcs.Deserialize(signed, body); err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "签名交易无法被 SDK 解析")
	}
	if err := ctx.Err(); err != nil {
		return "", withDelivery(xerrors.Wrap(xerrors.CodeTimeout, err, "提交前已取消"), chain.DeliveryUnsent)
	}

	resp, err := call(ctx, func() (*api.SubmitTransactionResponse, error) {
		return c.node.SubmitTransaction(signed)
	})
	if err != nil {
		mapped := nodeError(ctx, err)
		if xerrors.HasCode(mapped, chain.CodeRejected) {
			return "", mapped
		}
		delivery := chain.DeliveryUnknown
		if isDialError(err) {
			delivery = chain.DeliveryUnsent
		}
		return "", withDelivery(mapped, delivery)
	}
	if resp == nil || resp.Hash == "" {
		return "", xerrors.New(xerrors.CodeChainUnavailable, "节点未返回交易哈希",
			xerrors.WithMetadata(chain.MetaDelivery, chain.DeliveryUnknown))
	}
	return resp.Hash, nil
}

// TransactionByHash reads a transaction, pending or committed.
func (c *Client) TransactionByHash(ctx context.Context, hash string) (chain.TransactionInfo, error) {
	tx, err := call(ctx, func() (*api.Transaction, error) {
		return c.node.TransactionByHash(hash)
	})
	if err != nil {
		return chain.TransactionInfo{}, nodeError(ctx, err)
	}
	if tx == nil {
		return chain.TransactionInfo{}, xerrors.New(xerrors.CodeChainUnavailable, "节点未返回交易")
	}
	switch inner := tx.Inner.(type) {
	case *api.PendingTransaction:
		return chain.TransactionInfo{Hash: inner.Hash, Pending: true}, nil
	case *api.UserTransaction:
		return chain.TransactionInfo{
			Hash:     inner.Hash,
			Success:  inner.Success,
			VMStatus: inner.VmStatus,
			Version:  inner.Version,
		}, nil
	default:
		return chain.TransactionInfo{}, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("交易 %s 不是用户交易", hash))
	}
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func coinStoreType(coinType string) string {
	return coinStoreResourceType + "<" + coinType + ">"
}

// resource reads a resource and decodes its data field into out, if non-nil.
func (c *Client) resource(ctx context.Context, addr codec.AccountAddress, resourceType string, out any) error {
	res, err := call(ctx, func() (map[string]any, error) {
		return c.node.AccountResource(aptossdk.AccountAddress(addr), resourceType)
	})
	if err != nil {
		return nodeError(ctx, err)
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(res["data"])
	if err != nil {
		return xerrors.Wrap(xerrors.CodeChainUnavailable, err, "解析节点响应失败")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return xerrors.Wrap(xerrors.CodeChainUnavailable, err, "解析节点响应失败",
			xerrors.WithMetadata("resource", resourceType))
	}
	return nil
}

// call runs a blocking SDK request and stops waiting when ctx ends. The SDK
// request itself is bounded by the HTTP client timeout.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v: v, err: err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// nodeBody is the node's error body.
type nodeBody struct {
	Message     string `json:"message"`
	ErrorCode   string `json:"error_code"`
	VMErrorCode *int   `json:"vm_error_code"`
}

// nodeError maps SDK and transport errors onto the shared codes.
func nodeError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return xerrors.Wrap(xerrors.CodeTimeout, ctxErr, "请求节点超时")
	}
	var httpErr *aptossdk.HttpError
	if errors.As(err, &httpErr) {
		return statusError(httpErr.StatusCode, httpErr.Body)
	}
	return xerrors.Wrap(xerrors.CodeChainUnavailable, err, "请求节点失败")
}

func statusError(status int, body []byte) error {
	var nb nodeBody
	if err := json.Unmarshal(body, &nb); err != nil || nb.Message == "" {
		nb.Message = strings.TrimSpace(string(body))
	}
	opts := []xerrors.Option{
		xerrors.WithMetadata(chain.MetaHTTPStatus, strconv.Itoa(status)),
	}
	if nb.ErrorCode != "" {
		opts = append(opts, xerrors.WithMetadata(chain.MetaNodeErrorCode, nb.ErrorCode))
	}
	if nb.VMErrorCode != nil {
		opts = append(opts, xerrors.WithMetadata(chain.MetaVMErrorCode, strconv.Itoa(*nb.VMErrorCode)))
	}

	switch {
	case status == http.StatusNotFound:
		return xerrors.New(xerrors.CodeNotFound, nb.Message, opts...)
	case status >= http.StatusInternalServerError:
		return xerrors.New(xerrors.CodeChainUnavailable, nb.Message, opts...)
	default:
		return xerrors.New(chain.CodeRejected, nb.Message, opts...)
	}
}

// withDelivery tags err with chain.MetaDelivery, keeping its code and message.
func withDelivery(err error, delivery string) error {
	e, ok := xerrors.From(err)
	if !ok {
		return err
	}
	return xerrors.Wrap(e.Code(), err, e.Message(), xerrors.WithMetadata(chain.MetaDelivery, delivery))
}

// isDialError reports a connection that was never established, so no
// request bytes reached the node.
func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
