package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"prima/internal/config"
	"prima/internal/logger"
	"prima/internal/model"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
)

// Backend is the subset of *ethclient.Client the ledger needs.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// Contracts are the deployed addresses the client talks to.
type Contracts struct {
	Prima   model.Identity
	Token   model.Identity
	Invoice model.Identity
}

type Options struct {
	ChainID *big.Int
	// CallTimeout bounds each read and each submission; zero means no bound.
	CallTimeout time.Duration
	// ConfirmTimeout bounds WaitConfirmed; zero means wait until ctx is done.
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	// GasLimit, when set, replaces gas estimation. Pipelined approve-then-act needs it
	// because the action cannot be estimated before the allowance lands.
	GasLimit uint64
}

// Client implements Ledger against an EVM node.
type Client struct {
	backend   Backend
	abis      contractABIs
	contracts Contracts
	keys      *Keyring
	opts      Options
	log       zerolog.Logger

	// sendMu keeps nonce assignment and broadcast atomic so submissions of one sender reach
	// the node in program order.
	sendMu sync.Mutex
}

var _ Ledger = (*Client)(nil)

func NewClient(backend Backend, contracts Contracts, keys *Keyring, opts Options) (*Client, error) {
	abis, err := parseABIs()
	if err != nil {
		return nil, err
	}
	if opts.ChainID == nil {
		return nil, errors.New("ledger: chain id is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return &Client{
		backend:   backend,
		abis:      abis,
		contracts: contracts,
		keys:      keys,
		opts:      opts,
		log:       logger.WithComponent("ledger"),
	}, nil
}

// Dial connects to the node at url (http, ws or ipc). New-head watching needs ws or ipc.
func Dial(ctx context.Context, url string, contracts Contracts, keys *Keyring, opts Options) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewClient(eth, contracts, keys, opts)
}

func (c *Client) Contracts() Contracts { return c.contracts }

func (c *Client) withCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opts.CallTimeout)
}

func (c *Client) call(ctx context.Context, from model.Identity, to model.Identity, contract abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, &model.LedgerCallError{Op: method, Err: err}
	}
	ctx, cancel := c.withCallTimeout(ctx)
	defer cancel()

	addr := to.Address()
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: from.Address(), To: &addr, Data: data}, nil)
	if err != nil {
		if reason, ok := c.revertReason(err); ok {
			err = fmt.Errorf("reverted: %s", reason)
		}
		return nil, &model.LedgerCallError{Op: method, Err: err}
	}
	vals, err := contract.Unpack(method, out)
	if err != nil {
		return nil, &model.LedgerCallError{Op: method, Err: fmt.Errorf("decode result: %w", err)}
	}
	return vals, nil
}

func (c *Client) GetInvoice(ctx context.Context, tokenID *big.Int) (model.Invoice, error) {
	vals, err := c.call(ctx, model.Identity{}, c.contracts.Prima, c.abis.prima, "getInvoice", tokenID)
	if err != nil {
		return model.Invoice{}, err
	}
	if len(vals) != 1 {
		return model.Invoice{}, &model.LedgerCallError{Op: "getInvoice", Err: fmt.Errorf("expected 1 value, got %d", len(vals))}
	}
	var raw invoiceTuple
	if err := convertTuple(vals[0], &raw); err != nil {
		return model.Invoice{}, &model.LedgerCallError{Op: "getInvoice", Err: err}
	}
	inv, err := toInvoice(tokenID, raw)
	if err != nil {
		return model.Invoice{}, &model.LedgerCallError{Op: "getInvoice", Err: err}
	}
	return inv, nil
}

var roleIndexMethods = map[model.Role]string{
	model.RoleCreditor: "getCreditorInvoices",
	model.RoleDebtor:   "getDebtorInvoices",
	model.RoleInvestor: "getInvestorInvoices",
}

// GetInvoiceIDs evaluates the role index as actor; the contract scopes it to msg.sender.
func (c *Client) GetInvoiceIDs(ctx context.Context, role model.Role, actor model.Identity) ([]*big.Int, error) {
	method, ok := roleIndexMethods[role]
	if !ok {
		return nil, &model.LedgerCallError{Op: "getInvoiceIds", Err: fmt.Errorf("role %q has no ledger index", role)}
	}
	vals, err := c.call(ctx, actor, c.contracts.Prima, c.abis.prima, method)
	if err != nil {
		return nil, err
	}
	ids, ok := vals[0].([]*big.Int)
	if !ok {
		return nil, &model.LedgerCallError{Op: method, Err: fmt.Errorf("unexpected result type %T", vals[0])}
	}
	return ids, nil
}

func (c *Client) ComputeAmountBounds(ctx context.Context, amount *big.Int, tier model.CreditTier) (Bounds, error) {
	vals, err := c.call(ctx, model.Identity{}, c.contracts.Prima, c.abis.prima, "computeAmounts", amount, uint8(tier))
	if err != nil {
		return Bounds{}, err
	}
	minimum, okMin := vals[0].(*big.Int)
	maximum, okMax := vals[1].(*big.Int)
	if !okMin || !okMax {
		return Bounds{}, &model.LedgerCallError{Op: "computeAmounts", Err: fmt.Errorf("unexpected result types %T, %T", vals[0], vals[1])}
	}
	return Bounds{Minimum: minimum, Maximum: maximum}, nil
}

func (c *Client) GetAllowance(ctx context.Context, owner, spender model.Identity) (*big.Int, error) {
	return c.uintCall(ctx, "allowance", owner.Address(), spender.Address())
}

func (c *Client) GetBalance(ctx context.Context, owner model.Identity) (*big.Int, error) {
	return c.uintCall(ctx, "balanceOf", owner.Address())
}

func (c *Client) uintCall(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	vals, err := c.call(ctx, model.Identity{}, c.contracts.Token, c.abis.token, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, &model.LedgerCallError{Op: method, Err: fmt.Errorf("unexpected result type %T", vals[0])}
	}
	return v, nil
}

func (c *Client) GetStatusChangeEvents(ctx context.Context, fromBlock uint64, toBlock *uint64, status *model.InvoiceStatus) ([]StatusChange, error) {
	event := c.abis.invoice.Events[statusChangedEvent]
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{c.contracts.Invoice.Address()},
		Topics:    [][]common.Hash{{event.ID}},
	}
	if toBlock != nil {
		q.ToBlock = new(big.Int).SetUint64(*toBlock)
	}

	ctx, cancel := c.withCallTimeout(ctx)
	defer cancel()
	logs, err := c.backend.FilterLogs(ctx, q)
	if err != nil {
		return nil, &model.LedgerCallError{Op: "getLogs", Err: err}
	}

	changes := make([]StatusChange, 0, len(logs))
	for _, lg := range logs {
		var data statusChangedData
		if err := c.abis.invoice.UnpackIntoInterface(&data, statusChangedEvent, lg.Data); err != nil {
			return nil, &model.LedgerCallError{Op: "getLogs", Err: fmt.Errorf("decode log %s#%d: %w", lg.TxHash.Hex(), lg.Index, err)}
		}
		newStatus := model.InvoiceStatus(data.NewStatus)
		if !newStatus.Valid() {
			return nil, &model.LedgerCallError{Op: "getLogs", Err: fmt.Errorf("log %s#%d has unknown status %d", lg.TxHash.Hex(), lg.Index, data.NewStatus)}
		}
		if status != nil && newStatus != *status {
			continue
		}
		changes = append(changes, StatusChange{TokenID: data.TokenId, NewStatus: newStatus, BlockNumber: lg.BlockNumber})
	}
	return changes, nil
}

func (c *Client) ApproveAllowance(ctx context.Context, from, spender model.Identity, amount *big.Int) (common.Hash, error) {
	return c.transact(ctx, model.IntentApprove, from, c.contracts.Token, c.abis.token, "approve", spender.Address(), amount)
}

func (c *Client) GenerateInvoice(ctx context.Context, from model.Identity, params model.InvoiceParams) (common.Hash, error) {
	return c.transact(ctx, model.IntentGenerate, from, c.contracts.Prima, c.abis.prima, "generateInvoice", fromInvoiceParams(params))
}

func (c *Client) AcceptInvoice(ctx context.Context, from model.Identity, tokenID, collateral *big.Int) (common.Hash, error) {
	return c.transact(ctx, model.IntentAccept, from, c.contracts.Prima, c.abis.prima, "acceptInvoice", tokenID, collateral)
}

func (c *Client) InvestInvoice(ctx context.Context, from model.Identity, tokenID *big.Int, investor model.Company) (common.Hash, error) {
	return c.transact(ctx, model.IntentInvest, from, c.contracts.Prima, c.abis.prima, "investInvoice", tokenID, fromCompany(investor))
}

func (c *Client) AddCollateral(ctx context.Context, from model.Identity, amount *big.Int) (common.Hash, error) {
	return c.transact(ctx, model.IntentAddCollateral, from, c.contracts.Prima, c.abis.prima, "addCollateral", amount)
}

func (c *Client) PayInvoice(ctx context.Context, from model.Identity, tokenID *big.Int) (common.Hash, error) {
	return c.transact(ctx, model.IntentPay, from, c.contracts.Prima, c.abis.prima, "payInvoice", tokenID)
}

func (c *Client) transact(ctx context.Context, kind model.IntentKind, from model.Identity, to model.Identity, contract abi.ABI, method string, args ...interface{}) (common.Hash, error) {
	key, err := c.keys.key(from)
	if err != nil {
		return common.Hash{}, &model.TransactionRejectedError{Kind: kind, Err: err}
	}
	data, err := contract.Pack(method, args...)
	if err != nil {
		return common.Hash{}, &model.LedgerCallError{Op: method, Err: err}
	}
	addr := to.Address()

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	ctx, cancel := c.withCallTimeout(ctx)
	defer cancel()

	nonce, err := c.backend.PendingNonceAt(ctx, from.Address())
	if err != nil {
		return common.Hash{}, &model.LedgerCallError{Op: "pendingNonce", Err: err}
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, &model.LedgerCallError{Op: "gasPrice", Err: err}
	}
	gas := c.opts.GasLimit
	if gas == 0 {
		gas, err = c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from.Address(), To: &addr, Data: data})
		if err != nil {
			return common.Hash{}, c.submitError(method, err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &addr,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.opts.ChainID), key)
	if err != nil {
		return common.Hash{}, &model.TransactionRejectedError{Kind: kind, Err: err}
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, c.submitError(method, err)
	}

	c.log.Debug().
		Str("method", method).
		Str("from", from.String()).
		Uint64("nonce", nonce).
		Str("tx_hash", signed.Hash().Hex()).
		Msg("transaction submitted")
	return signed.Hash(), nil
}

func (c *Client) submitError(method string, err error) error {
	if reason, ok := c.revertReason(err); ok {
		return &model.TransactionRevertedError{Reason: reason}
	}
	return &model.LedgerCallError{Op: method, Err: err}
}

// revertReason decodes Error(string) and the contracts' custom errors from a node error.
func (c *Client) revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if hexData, ok := dataErr.ErrorData().(string); ok {
			if raw, decErr := hexutil.Decode(hexData); decErr == nil && len(raw) >= 4 {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason, true
				}
				for _, contract := range []abi.ABI{c.abis.prima, c.abis.token} {
					for name, custom := range contract.Errors {
						if !bytes.Equal(raw[:4], custom.ID[:4]) {
							continue
						}
						if args, unpackErr := custom.Inputs.Unpack(raw[4:]); unpackErr == nil && len(args) > 0 {
							return fmt.Sprintf("%s%v", name, args), true
						}
						return name, true
					}
				}
			}
		}
	}
	if strings.Contains(err.Error(), "execution reverted") {
		return err.Error(), true
	}
	return "", false
}

// WaitConfirmed polls for the receipt of hash until it is mined, ctx is done or the
// confirmation timeout elapses.
func (c *Client) WaitConfirmed(ctx context.Context, hash common.Hash) (Receipt, error) {
	if c.opts.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ConfirmTimeout)
		defer cancel()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.PollInterval
	policy.MaxInterval = 4 * c.opts.PollInterval
	policy.MaxElapsedTime = 0

	var receipt *types.Receipt
	err := backoff.Retry(func() error {
		r, err := c.backend.TransactionReceipt(ctx, hash)
		if err != nil {
			// ethereum.NotFound while pending; transient node errors are retried the same way
			return err
		}
		receipt = r
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return Receipt{}, &model.LedgerCallError{Op: "waitConfirmed", Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Receipt{}, &model.TransactionRevertedError{Hash: hash, Reason: "execution reverted"}
	}

	out := Receipt{Hash: hash, TokenID: c.mintedToken(receipt.Logs)}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return out, nil
}

// mintedToken finds the InvoiceNFT minted by a generateInvoice receipt.
func (c *Client) mintedToken(logs []*types.Log) *big.Int {
	transfer := c.abis.invoice.Events[transferEvent]
	invoiceAddr := c.contracts.Invoice.Address()
	for _, lg := range logs {
		if lg.Address != invoiceAddr || len(lg.Topics) != 4 || lg.Topics[0] != transfer.ID {
			continue
		}
		if lg.Topics[1] == (common.Hash{}) {
			return new(big.Int).SetBytes(lg.Topics[3].Bytes())
		}
	}
	return nil
}

// WatchHeads forwards new block numbers until ctx is done or the subscription drops.
func (c *Client) WatchHeads(ctx context.Context, heads chan<- uint64) error {
	headers := make(chan *types.Header, 16)
	sub, err := c.backend.SubscribeNewHead(ctx, headers)
	if err != nil {
		return &model.LedgerCallError{Op: "subscribeNewHead", Err: err}
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return &model.LedgerCallError{Op: "subscribeNewHead", Err: err}
		case h := <-headers:
			if h == nil || h.Number == nil {
				continue
			}
			select {
			case heads <- h.Number.Uint64():
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// convertTuple copies an ABI-decoded anonymous tuple into dst; go-ethereum panics on shape
// mismatches, which surface here as errors.
func convertTuple(in interface{}, dst interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decode tuple: %v", r)
		}
	}()
	abi.ConvertType(in, dst)
	return nil
}

// DialConfig builds the contract set, signing keys and options from cfg and dials the node.
func DialConfig(ctx context.Context, cfg *config.Config) (*Client, error) {
	keys, err := NewKeyring(cfg.SignerKeys)
	if err != nil {
		return nil, err
	}
	contracts := Contracts{
		Prima:   model.MustIdentity(cfg.PrimaAddress),
		Token:   model.MustIdentity(cfg.TokenAddress),
		Invoice: model.MustIdentity(cfg.InvoiceAddress),
	}
	return Dial(ctx, cfg.RPCURL, contracts, keys, Options{
		ChainID:        big.NewInt(cfg.ChainID),
		CallTimeout:    cfg.LedgerCallTimeout,
		ConfirmTimeout: cfg.ConfirmTimeout,
		PollInterval:   cfg.ConfirmPoll,
		GasLimit:       cfg.GasLimit,
	})
}
