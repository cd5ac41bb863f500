package oracle

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
)

const (
	oracleABIJSON = `[
{"inputs":[],"name":"getPricing","outputs":[{"internalType":"uint256","name":"price","type":"uint256"},{"internalType":"uint256","name":"timestamp","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"uint256","name":"price","type":"uint256"},{"internalType":"uint256","name":"timestamp","type":"uint256"}],"name":"updatePrice","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

	// on-chain prices carry 18 decimals
	priceDecimals = 18

	defaultGasLimit = uint64(200_000)
)

var oracleABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(oracleABIJSON))
	if err != nil {
		panic("failed to parse oracle ABI: " + err.Error())
	}
	oracleABI = parsed
}

var (
	// ErrReadOnly is returned by UpdateRate when no signing key is configured.
	ErrReadOnly = errors.New("oracle: no private key configured")
	// ErrReverted is returned when the update transaction was mined but failed.
	ErrReverted = errors.New("oracle: update transaction reverted")
)

// Backend is the subset of the ethclient API the contract needs.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Options parameterise the oracle contract adapter.
type Options struct {
	RPCURL              string
	ContractAddress     string
	Account             string
	PrivateKey          string
	ChainID             int64
	GasLimit            uint64
	RequestTimeout      time.Duration
	ReceiptTimeout      time.Duration
	ReceiptPollInterval time.Duration
}

// State is the rate currently committed on chain.
type State struct {
	Rate      decimal.Decimal
	UpdatedAt time.Time
}

// Contract reads and writes the price oracle contract.
type Contract struct {
	opts    Options
	logger  zerolog.Logger
	address common.Address
	from    common.Address
	key     *ecdsa.PrivateKey

	client    Backend
	dialed    *ethclient.Client
	clientMux sync.Mutex
	sendMux   sync.Mutex
}

// NewContract validates the signing material and builds the adapter. The RPC
// connection is established lazily on first use.
func NewContract(opts Options, logger zerolog.Logger) (*Contract, error) {
	c := &Contract{
		opts:   opts,
		logger: logger.With().Str("component", "oracle_contract").Logger(),
	}
	if opts.ContractAddress != "" {
		if !common.IsHexAddress(opts.ContractAddress) {
			return nil, fmt.Errorf("invalid oracle contract address %q", opts.ContractAddress)
		}
		c.address = common.HexToAddress(opts.ContractAddress)
	}
	if opts.Account != "" {
		if !common.IsHexAddress(opts.Account) {
			return nil, fmt.Errorf("invalid oracle account %q", opts.Account)
		}
		c.from = common.HexToAddress(opts.Account)
	}

	if opts.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(opts.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse oracle private key: %w", err)
		}
		derived := crypto.PubkeyToAddress(key.PublicKey)
		if opts.Account != "" && derived != c.from {
			return nil, fmt.Errorf("private key belongs to %s, not to configured account %s", derived.Hex(), c.from.Hex())
		}
		c.key = key
		c.from = derived
	}

	return c, nil
}

// Close releases the RPC connection if one was dialed.
func (c *Contract) Close() {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()
	if c.dialed != nil {
		c.dialed.Close()
		c.dialed = nil
		c.client = nil
	}
}

// CurrentState calls getPricing on the oracle.
func (c *Contract) CurrentState(ctx context.Context) (State, error) {
	if c.address == (common.Address{}) {
		return State{}, errors.New("oracle contract address not configured")
	}

	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return State{}, err
	}

	payload, err := oracleABI.Pack("getPricing")
	if err != nil {
		return State{}, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: payload}, nil)
	if err != nil {
		return State{}, c.processError(fmt.Errorf("call getPricing: %w", err))
	}

	outputs, err := oracleABI.Unpack("getPricing", res)
	if err != nil {
		return State{}, fmt.Errorf("unpack getPricing: %w", err)
	}
	if len(outputs) != 2 {
		return State{}, errors.New("unexpected getPricing response")
	}

	price, ok := outputs[0].(*big.Int)
	if !ok {
		return State{}, errors.New("failed to decode getPricing price")
	}
	timestamp, ok := outputs[1].(*big.Int)
	if !ok {
		return State{}, errors.New("failed to decode getPricing timestamp")
	}

	return State{
		Rate:      decimal.NewFromBigInt(price, -priceDecimals),
		UpdatedAt: time.UnixMilli(timestamp.Int64()).UTC(),
	}, nil
}

// UpdateRate submits updatePrice and waits for the receipt. It returns only
// after the transaction is mined successfully, so callers can treat a nil
// error as a confirmed commit.
func (c *Contract) UpdateRate(ctx context.Context, rate decimal.Decimal) error {
	if c.key == nil {
		return ErrReadOnly
	}
	if c.address == (common.Address{}) {
		return errors.New("oracle contract address not configured")
	}
	if rate.Sign() < 0 {
		return fmt.Errorf("refusing to submit negative rate %s", rate.String())
	}

	c.sendMux.Lock()
	defer c.sendMux.Unlock()

	tx, err := c.sendUpdate(ctx, rate)
	if err != nil {
		return err
	}

	c.logger.Info().Str("hash", tx.Hash().Hex()).
		Str("rate", rate.String()).
		Uint64("nonce", tx.Nonce()).
		Uint64("gas_limit", tx.Gas()).
		Msg("oracle update sent")

	receipt, err := c.waitReceipt(ctx, tx.Hash())
	if err != nil {
		return fmt.Errorf("wait receipt for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
	}

	c.logger.Info().Str("hash", tx.Hash().Hex()).
		Str("block", receipt.BlockNumber.String()).
		Uint64("gas_used", receipt.GasUsed).
		Msg("oracle update mined")
	return nil
}

func (c *Contract) sendUpdate(ctx context.Context, rate decimal.Decimal) (*types.Transaction, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}

	price := rate.Shift(priceDecimals).Truncate(0).BigInt()
	timestamp := big.NewInt(time.Now().UnixMilli())
	data, err := oracleABI.Pack("updatePrice", price, timestamp)
	if err != nil {
		return nil, fmt.Errorf("pack updatePrice: %w", err)
	}

	chainID, err := c.chainID(ctx, client)
	if err != nil {
		return nil, err
	}

	nonce, err := client.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, c.processError(fmt.Errorf("pending nonce: %w", err))
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, c.processError(fmt.Errorf("suggest gas price: %w", err))
	}

	gasLimit := c.opts.GasLimit
	if gasLimit == 0 {
		gasLimit = defaultGasLimit
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &c.address,
		Value:    big.NewInt(0),
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("sign updatePrice: %w", err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return nil, c.processError(fmt.Errorf("send updatePrice: %w", err))
	}
	return signed, nil
}

func (c *Contract) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	client, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}

	interval := c.opts.ReceiptPollInterval
	if interval <= 0 {
		interval = time.Second
	}
	timeout := c.opts.ReceiptTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	backoff := retry.WithMaxDuration(timeout, retry.NewConstant(interval))

	var receipt *types.Receipt
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := client.TransactionReceipt(ctx, hash)
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				return retry.RetryableError(err)
			}
			return c.processError(err)
		}
		receipt = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// Ping checks that the RPC node answers.
func (c *Contract) Ping(ctx context.Context) error {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return err
	}
	if _, err := client.ChainID(ctx); err != nil {
		return c.processError(err)
	}
	return nil
}

func (c *Contract) chainID(ctx context.Context, client Backend) (*big.Int, error) {
	if c.opts.ChainID > 0 {
		return big.NewInt(c.opts.ChainID), nil
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		return nil, c.processError(fmt.Errorf("chain id: %w", err))
	}
	return id, nil
}

func (c *Contract) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.opts.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (c *Contract) getClient(ctx context.Context) (Backend, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	if c.opts.RPCURL == "" {
		return nil, errors.New("oracle rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial oracle rpc: %w", err)
	}
	c.dialed = client
	c.client = client
	return client, nil
}

// processError drops a dialed connection after network failures so the next
// call redials.
func (c *Contract) processError(err error) error {
	var netErr net.Error
	if errors.Is(err, net.ErrClosed) || (errors.As(err, &netErr) && netErr.Timeout()) {
		c.clientMux.Lock()
		if c.dialed != nil {
			c.dialed.Close()
			c.dialed = nil
			c.client = nil
		}
		c.clientMux.Unlock()
	}
	return err
}
