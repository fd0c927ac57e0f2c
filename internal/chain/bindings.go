// Package chain implements the engine's on-chain collaborator interfaces
// against real contracts over an Ethereum JSON-RPC endpoint. All bindings go
// through bind.BoundContract with hand-declared ABIs; the engine never sees
// the RPC layer.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"SpotLedger/internal/engine"
)

const erc20ABI = `[
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"holder","type":"address"}],"outputs":[{"type":"uint256"}]},
  {"name":"transferFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"type":"bool"}]}
]`

const custodianABI = `[
  {"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"destination","type":"address"},{"name":"asset","type":"address"},{"name":"quantity","type":"uint256"}],"outputs":[]}
]`

const pairABI = `[
  {"name":"getReserves","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"base","type":"uint256"},{"name":"quote","type":"uint256"}]},
  {"name":"mint","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"liquidity","type":"uint256"}],"outputs":[]},
  {"name":"burn","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"liquidity","type":"uint256"}],"outputs":[]}
]`

const factoryABI = `[
  {"name":"pairFor","type":"function","stateMutability":"view","inputs":[{"name":"base","type":"address"},{"name":"quote","type":"address"}],"outputs":[{"type":"address"}]}
]`

// Client dials one RPC endpoint and hands out contract bindings. It satisfies
// the engine's TokenBinder and PairBinder interfaces directly.
type Client struct {
	log zerolog.Logger
	eth *ethclient.Client

	opts *bind.TransactOpts

	erc20     abi.ABI
	custodian abi.ABI
	pair      abi.ABI
	factory   abi.ABI
}

// Dial connects to the endpoint and derives the operator transactor from the
// hex-encoded private key. The operator signs every outbound transaction.
func Dial(url string, chainID int64, operatorKeyHex string, log zerolog.Logger) (*Client, error) {
	eth, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(operatorKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(chainID))
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}

	c := &Client{
		log:  log.With().Str("component", "chain").Logger(),
		eth:  eth,
		opts: opts,
	}
	for _, spec := range []struct {
		json string
		dst  *abi.ABI
	}{
		{erc20ABI, &c.erc20},
		{custodianABI, &c.custodian},
		{pairABI, &c.pair},
		{factoryABI, &c.factory},
	} {
		parsed, err := abi.JSON(strings.NewReader(spec.json))
		if err != nil {
			return nil, fmt.Errorf("parse abi: %w", err)
		}
		*spec.dst = parsed
	}

	c.log.Info().Str("url", url).Int64("chain_id", chainID).
		Str("operator", opts.From.Hex()).Msg("chain client connected")
	return c, nil
}

func (c *Client) Close() {
	c.eth.Close()
}

// miningTimeout bounds how long a binding waits for a submitted transaction
// to land before giving up.
const miningTimeout = 2 * time.Minute

func (c *Client) waitMined(tx *types.Transaction) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(context.Background(), miningTimeout)
	defer cancel()
	return bind.WaitMined(ctx, c.eth, tx)
}

func (c *Client) bound(address common.Address, parsed abi.ABI) *bind.BoundContract {
	return bind.NewBoundContract(address, parsed, c.eth, c.eth, c.eth)
}

type boundToken struct {
	client   *Client
	contract *bind.BoundContract
}

// Token returns the ERC-20 binding at address.
func (c *Client) Token(address common.Address) (engine.Token, error) {
	return boundToken{client: c, contract: c.bound(address, c.erc20)}, nil
}

func (t boundToken) BalanceOf(holder common.Address) (*big.Int, error) {
	var out []interface{}
	if err := t.contract.Call(&bind.CallOpts{}, &out, "balanceOf", holder); err != nil {
		return nil, err
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// TransferFrom submits the pull and blocks until the transaction is mined.
// The deposit path reads the custodian's balance immediately afterward, so
// returning at submission time would make every deposit's received-amount
// check observe a zero delta.
func (t boundToken) TransferFrom(from, to common.Address, quantityInAssetUnits *big.Int) error {
	tx, err := t.contract.Transact(t.client.opts, "transferFrom", from, to, quantityInAssetUnits)
	if err != nil {
		return err
	}
	receipt, err := t.client.waitMined(tx)
	if err != nil {
		return fmt.Errorf("transferFrom %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("transferFrom %s reverted", tx.Hash().Hex())
	}
	t.client.log.Debug().Str("tx", tx.Hash().Hex()).Msg("transferFrom mined")
	return nil
}

// BoundCustodian wraps the vault contract.
type BoundCustodian struct {
	client   *Client
	address  common.Address
	contract *bind.BoundContract
}

// Custodian returns the vault binding at address.
func (c *Client) Custodian(address common.Address) *BoundCustodian {
	return &BoundCustodian{client: c, address: address, contract: c.bound(address, c.custodian)}
}

func (bc *BoundCustodian) Address() common.Address {
	return bc.address
}

func (bc *BoundCustodian) Withdraw(destination, assetAddress common.Address, quantityInAssetUnits *big.Int) error {
	tx, err := bc.contract.Transact(bc.client.opts, "withdraw", destination, assetAddress, quantityInAssetUnits)
	if err != nil {
		return err
	}
	bc.client.log.Debug().Str("tx", tx.Hash().Hex()).
		Str("destination", destination.Hex()).Msg("custodian withdrawal submitted")
	return nil
}

type boundPair struct {
	client   *Client
	contract *bind.BoundContract
}

// Pair returns the AMM pair binding at address.
func (c *Client) Pair(address common.Address) (engine.Pair, error) {
	return boundPair{client: c, contract: c.bound(address, c.pair)}, nil
}

func (p boundPair) Reserves() (baseInAssetUnits, quoteInAssetUnits *big.Int, err error) {
	var out []interface{}
	if err := p.contract.Call(&bind.CallOpts{}, &out, "getReserves"); err != nil {
		return nil, nil, err
	}
	base := abi.ConvertType(out[0], new(big.Int)).(*big.Int)
	quote := abi.ConvertType(out[1], new(big.Int)).(*big.Int)
	return base, quote, nil
}

func (p boundPair) Mint(to common.Address, liquidityInAssetUnits *big.Int) error {
	_, err := p.contract.Transact(p.client.opts, "mint", to, liquidityInAssetUnits)
	return err
}

func (p boundPair) Burn(from common.Address, liquidityInAssetUnits *big.Int) error {
	_, err := p.contract.Transact(p.client.opts, "burn", from, liquidityInAssetUnits)
	return err
}

// BoundFactory wraps the pair factory contract.
type BoundFactory struct {
	client   *Client
	contract *bind.BoundContract
}

// Factory returns the pair factory binding at address.
func (c *Client) Factory(address common.Address) *BoundFactory {
	return &BoundFactory{client: c, contract: c.bound(address, c.factory)}
}

func (f *BoundFactory) PairFor(baseAsset, quoteAsset common.Address) (common.Address, error) {
	var out []interface{}
	if err := f.contract.Call(&bind.CallOpts{}, &out, "pairFor", baseAsset, quoteAsset); err != nil {
		return common.Address{}, err
	}
	return abi.ConvertType(out[0], new(common.Address)).(common.Address), nil
}
