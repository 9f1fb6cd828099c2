package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"permwatch/pkg/platform/sentinel"
)

// Backend is the subset of *ethclient.Client the adapter needs.
type Backend interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// EthConfig points the adapter at the contract and optional signer.
type EthConfig struct {
	Contract    common.Address
	ChainID     *big.Int
	SignerKey   *ecdsa.PrivateKey
	GasLimit    uint64
	CallTimeout time.Duration
}

func (c EthConfig) gasLimit() uint64 {
	if c.GasLimit == 0 {
		return 300_000
	}
	return c.GasLimit
}

func (c EthConfig) callTimeout() time.Duration {
	if c.CallTimeout <= 0 {
		return 15 * time.Second
	}
	return c.CallTimeout
}

// EthClient implements Client over a JSON-RPC endpoint.
type EthClient struct {
	backend Backend
	cfg     EthConfig
	abi     abi.ABI
	logger  *slog.Logger
}

type EthOption func(*EthClient)

func WithLogger(logger *slog.Logger) EthOption {
	return func(c *EthClient) {
		c.logger = logger
	}
}

// NewEthClient wraps an existing backend.
func NewEthClient(backend Backend, cfg EthConfig, opts ...EthOption) (*EthClient, error) {
	if backend == nil {
		return nil, errors.New("ledger backend is required")
	}
	if cfg.ChainID == nil {
		return nil, errors.New("chain id is required")
	}
	parsed, err := ContractABI()
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	c := &EthClient{
		backend: backend,
		cfg:     cfg,
		abi:     parsed,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dial connects to rpcURL and wraps the resulting ethclient.
func Dial(ctx context.Context, rpcURL string, cfg EthConfig, opts ...EthOption) (*EthClient, error) {
	backend, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return NewEthClient(backend, cfg, opts...)
}

// ParseSignerKey decodes a hex private key, with or without 0x prefix.
func ParseSignerKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if hexKey == "" {
		return nil, nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	return key, nil
}

func (c *EthClient) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.callTimeout())
}

// GetLogs returns the decoded logs of one event type in [fromBlock, toBlock].
// Logs that fail to decode are dropped with a warning.
func (c *EthClient) GetLogs(ctx context.Context, fromBlock, toBlock uint64, name EventName) ([]RawLog, error) {
	ev, ok := c.abi.Events[string(name)]
	if !ok {
		return nil, fmt.Errorf("event %s not in contract abi: %w", name, sentinel.ErrInvalidState)
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	logs, err := c.backend.FilterLogs(callCtx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.cfg.Contract},
		Topics:    [][]common.Hash{{ev.ID}},
	})
	if err != nil {
		return nil, fmt.Errorf("filter %s logs %d-%d: %w", name, fromBlock, toBlock, err)
	}

	out := make([]RawLog, 0, len(logs))
	for _, lg := range logs {
		raw, err := c.decode(name, ev, lg)
		if err != nil {
			c.logger.Warn("dropping undecodable log",
				"event", name,
				"block", lg.BlockNumber,
				"tx", lg.TxHash.Hex(),
				"log_index", lg.Index,
				"error", err,
			)
			continue
		}
		out = append(out, raw)
	}
	return out, nil
}

func (c *EthClient) decode(name EventName, ev abi.Event, lg types.Log) (RawLog, error) {
	if len(lg.Topics) == 0 || lg.Topics[0] != ev.ID {
		return RawLog{}, errors.New("topic does not match event id")
	}

	values := make(map[string]any)
	if len(ev.Inputs.NonIndexed()) > 0 {
		if err := ev.Inputs.UnpackIntoMap(values, lg.Data); err != nil {
			return RawLog{}, fmt.Errorf("unpack data: %w", err)
		}
	}

	var indexed abi.Arguments
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if len(lg.Topics)-1 < len(indexed) {
		return RawLog{}, fmt.Errorf("insufficient topics (got %d, want %d)", len(lg.Topics)-1, len(indexed))
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(values, indexed, lg.Topics[1:len(indexed)+1]); err != nil {
			return RawLog{}, fmt.Errorf("parse topics: %w", err)
		}
	}

	payload := make(map[string]any, len(values))
	for k, v := range values {
		payload[k] = normalizeValue(v)
	}

	user, _ := payload["user"].(string)
	if user == "" {
		user, _ = payload["account"].(string)
	}

	return RawLog{
		Name:        name,
		Address:     strings.ToLower(lg.Address.Hex()),
		TxHash:      strings.ToLower(lg.TxHash.Hex()),
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
		User:        user,
		Payload:     payload,
		Removed:     lg.Removed,
	}, nil
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case common.Address:
		return strings.ToLower(x.Hex())
	case []common.Address:
		out := make([]string, len(x))
		for i, a := range x {
			out[i] = strings.ToLower(a.Hex())
		}
		return out
	case common.Hash:
		return x.Hex()
	case [32]byte:
		return hexutil.Encode(x[:])
	case []byte:
		return hexutil.Encode(x)
	case *big.Int:
		if x == nil {
			return "0"
		}
		return x.String()
	case bool, string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// GetLatestBlock returns the current chain head.
func (c *EthClient) GetLatestBlock(ctx context.Context) (uint64, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	head, err := c.backend.BlockNumber(callCtx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	return head, nil
}

// SubmitRenewal signs and sends renewPermission with the configured key.
func (c *EthClient) SubmitRenewal(ctx context.Context, args RenewalArgs) (string, error) {
	if c.cfg.SignerKey == nil {
		return "", fmt.Errorf("no signer key configured: %w", sentinel.ErrInvalidState)
	}
	if !common.IsHexAddress(args.User) {
		return "", fmt.Errorf("renewal user %q is not an address", args.User)
	}

	tokens := make([]common.Address, 0, len(args.AllowedTokens))
	for _, t := range args.AllowedTokens {
		if !common.IsHexAddress(t) {
			return "", fmt.Errorf("renewal token %q is not an address", t)
		}
		tokens = append(tokens, common.HexToAddress(t))
	}

	data, err := c.abi.Pack("renewPermission",
		common.HexToAddress(args.User),
		common.HexToAddress(args.WithdrawalAddress),
		tokens,
		big.NewInt(args.ExpiresAt.Unix()),
	)
	if err != nil {
		return "", fmt.Errorf("pack renewPermission: %w", err)
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	from := crypto.PubkeyToAddress(c.cfg.SignerKey.PublicKey)
	nonce, err := c.backend.PendingNonceAt(callCtx, from)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(callCtx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}

	contract := c.cfg.Contract
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &contract,
		Value:    big.NewInt(0),
		Gas:      c.cfg.gasLimit(),
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.cfg.ChainID), c.cfg.SignerKey)
	if err != nil {
		return "", fmt.Errorf("sign renewal: %w", err)
	}
	if err := c.backend.SendTransaction(callCtx, signed); err != nil {
		return "", fmt.Errorf("send renewal: %w", err)
	}

	c.logger.Info("renewal submitted", "user", strings.ToLower(args.User), "tx", signed.Hash().Hex(), "nonce", nonce)
	return strings.ToLower(signed.Hash().Hex()), nil
}

// ReadPermission calls getPermission(user) at the latest block.
func (c *EthClient) ReadPermission(ctx context.Context, user string) (*OnChainPermission, error) {
	if !common.IsHexAddress(user) {
		return nil, fmt.Errorf("user %q is not an address", user)
	}
	data, err := c.abi.Pack("getPermission", common.HexToAddress(user))
	if err != nil {
		return nil, fmt.Errorf("pack getPermission: %w", err)
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	contract := c.cfg.Contract
	out, err := c.backend.CallContract(callCtx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call getPermission: %w", err)
	}
	values, err := c.abi.Unpack("getPermission", out)
	if err != nil {
		return nil, fmt.Errorf("unpack getPermission: %w", err)
	}
	if len(values) != 4 {
		return nil, fmt.Errorf("unexpected getPermission length %d", len(values))
	}

	withdrawal, _ := values[0].(common.Address)
	tokens, _ := values[1].([]common.Address)
	expiresAt, _ := values[2].(*big.Int)
	active, _ := values[3].(bool)

	perm := &OnChainPermission{
		User:              strings.ToLower(user),
		WithdrawalAddress: strings.ToLower(withdrawal.Hex()),
		Active:            active,
	}
	for _, t := range tokens {
		perm.AllowedTokens = append(perm.AllowedTokens, strings.ToLower(t.Hex()))
	}
	if expiresAt != nil {
		perm.ExpiresAt = time.Unix(expiresAt.Int64(), 0).UTC()
	}
	return perm, nil
}
