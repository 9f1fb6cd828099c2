package ledger

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testUser     = common.HexToAddress("0xAB00000000000000000000000000000000000001")
	testToken    = common.HexToAddress("0x00000000000000000000000000000000000000C0")
)

type fakeBackend struct {
	logs      []types.Log
	lastQuery ethereum.FilterQuery
	head      uint64
	callOut   []byte
	sent      []*types.Transaction
	filterErr error
}

func (f *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.lastQuery = q
	return f.logs, f.filterErr
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return f.callOut, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	return nil
}

func newTestClient(t *testing.T, backend *fakeBackend, cfg EthConfig) *EthClient {
	t.Helper()
	cfg.Contract = testContract
	if cfg.ChainID == nil {
		cfg.ChainID = big.NewInt(31337)
	}
	c, err := NewEthClient(backend, cfg)
	require.NoError(t, err)
	return c
}

func TestContractABICoversEveryTrackedEvent(t *testing.T) {
	parsed, err := ContractABI()
	require.NoError(t, err)
	for _, name := range AllEventNames() {
		_, ok := parsed.Events[string(name)]
		assert.True(t, ok, "abi missing event %s", name)
	}
	assert.Len(t, AllEventNames(), 23)
}

func TestGetLogs_DecodesIndexedAndDataFields(t *testing.T) {
	parsed, err := ContractABI()
	require.NoError(t, err)
	ev := parsed.Events["PermissionGranted"]

	expiry := big.NewInt(1_900_000_000)
	data, err := ev.Inputs.NonIndexed().Pack(testToken, []common.Address{testToken}, expiry)
	require.NoError(t, err)

	backend := &fakeBackend{logs: []types.Log{{
		Address:     testContract,
		Topics:      []common.Hash{ev.ID, common.BytesToHash(testUser.Bytes())},
		Data:        data,
		BlockNumber: 103,
		TxHash:      common.HexToHash("0xbeef"),
		Index:       2,
	}}}
	c := newTestClient(t, backend, EthConfig{})

	logs, err := c.GetLogs(context.Background(), 101, 105, EventPermissionGranted)
	require.NoError(t, err)
	require.Len(t, logs, 1)

	got := logs[0]
	assert.Equal(t, EventPermissionGranted, got.Name)
	assert.Equal(t, strings.ToLower(testUser.Hex()), got.User)
	assert.Equal(t, uint64(103), got.BlockNumber)
	assert.Equal(t, uint(2), got.LogIndex)
	assert.Equal(t, strings.ToLower(common.HexToHash("0xbeef").Hex()), got.TxHash)
	assert.Equal(t, "1900000000", got.Payload["expiresAt"])
	assert.Equal(t, []string{strings.ToLower(testToken.Hex())}, got.Payload["allowedTokens"])

	require.Len(t, backend.lastQuery.Topics, 1)
	assert.Equal(t, []common.Hash{ev.ID}, backend.lastQuery.Topics[0])
	assert.Equal(t, uint64(101), backend.lastQuery.FromBlock.Uint64())
	assert.Equal(t, []common.Address{testContract}, backend.lastQuery.Addresses)
}

func TestGetLogs_DropsLogsWithMissingTopics(t *testing.T) {
	parsed, err := ContractABI()
	require.NoError(t, err)
	ev := parsed.Events["PermissionRevoked"]

	backend := &fakeBackend{logs: []types.Log{
		{Topics: []common.Hash{ev.ID}, BlockNumber: 9},
		{Topics: []common.Hash{ev.ID, common.BytesToHash(testUser.Bytes())}, BlockNumber: 10},
	}}
	c := newTestClient(t, backend, EthConfig{})

	logs, err := c.GetLogs(context.Background(), 1, 10, EventPermissionRevoked)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, uint64(10), logs[0].BlockNumber)
}

func TestGetLogs_PropagatesBackendError(t *testing.T) {
	backend := &fakeBackend{filterErr: errors.New("rpc down")}
	c := newTestClient(t, backend, EthConfig{})

	_, err := c.GetLogs(context.Background(), 1, 2, EventPaused)
	assert.ErrorContains(t, err, "rpc down")
}

func TestSubmitRenewal(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	backend := &fakeBackend{}
	chainID := big.NewInt(8453)
	c := newTestClient(t, backend, EthConfig{SignerKey: key, ChainID: chainID})

	hash, err := c.SubmitRenewal(context.Background(), RenewalArgs{
		User:              testUser.Hex(),
		WithdrawalAddress: testToken.Hex(),
		AllowedTokens:     []string{testToken.Hex()},
		ExpiresAt:         time.Unix(1_900_000_000, 0),
	})
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, strings.ToLower(tx.Hash().Hex()), hash)
	assert.Equal(t, testContract, *tx.To())
	assert.Equal(t, uint64(7), tx.Nonce())

	parsed, _ := ContractABI()
	assert.Equal(t, parsed.Methods["renewPermission"].ID, tx.Data()[:4])

	sender, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), sender)
}

func TestSubmitRenewal_RequiresSigner(t *testing.T) {
	c := newTestClient(t, &fakeBackend{}, EthConfig{})
	_, err := c.SubmitRenewal(context.Background(), RenewalArgs{User: testUser.Hex()})
	assert.Error(t, err)
}

func TestReadPermission(t *testing.T) {
	parsed, err := ContractABI()
	require.NoError(t, err)
	out, err := parsed.Methods["getPermission"].Outputs.Pack(testToken, []common.Address{testToken}, big.NewInt(1_900_000_000), true)
	require.NoError(t, err)

	c := newTestClient(t, &fakeBackend{callOut: out}, EthConfig{})
	perm, err := c.ReadPermission(context.Background(), testUser.Hex())
	require.NoError(t, err)

	assert.True(t, perm.Active)
	assert.Equal(t, strings.ToLower(testUser.Hex()), perm.User)
	assert.Equal(t, time.Unix(1_900_000_000, 0).UTC(), perm.ExpiresAt)
	assert.Equal(t, []string{strings.ToLower(testToken.Hex())}, perm.AllowedTokens)
}
