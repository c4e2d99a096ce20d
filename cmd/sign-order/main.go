// Command sign-order builds EIP-712 signed commands for POST /api/v1/tx.
//
//	sign-order keygen
//	sign-order order --key $KEY --symbol BTC-USDT --side buy --price 50000.5 --qty 10 --nonce 1
//	sign-order cancel --key $KEY --symbol BTC-USDT --id 42 --nonce 2
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/matchcore/pkg/app/core/orderbook"
	"github.com/uhyunpark/matchcore/pkg/app/core/transaction"
	"github.com/uhyunpark/matchcore/pkg/crypto"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type signOpts struct {
	key     string
	chainID int64
	nonce   uint64
	symbol  string
}

func (o *signOpts) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.key, "key", os.Getenv("SIGNER_KEY"), "hex private key (defaults to $SIGNER_KEY)")
	cmd.Flags().Int64Var(&o.chainID, "chain-id", 1337, "EIP-712 domain chain id")
	cmd.Flags().Uint64Var(&o.nonce, "nonce", 1, "command nonce, must increase per owner")
	cmd.Flags().StringVar(&o.symbol, "symbol", "BTC-USDT", "market symbol")
}

func (o *signOpts) signer() (*crypto.Signer, *transaction.Verifier, error) {
	if o.key == "" {
		return nil, nil, fmt.Errorf("--key or SIGNER_KEY is required")
	}
	s, err := crypto.FromPrivateKeyHex(o.key)
	if err != nil {
		return nil, nil, err
	}
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(o.chainID)
	return s, transaction.NewVerifier(domain), nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "sign-order",
		Short:        "Sign matchcore order and cancel commands",
		SilenceUsage: true,
	}
	root.AddCommand(newKeygenCmd(), newOrderCmd(), newCancelCmd())
	return root
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), struct {
				Address    string `json:"address"`
				PrivateKey string `json:"private_key"`
			}{s.Address().Hex(), s.PrivateKeyHex()})
		},
	}
}

func newOrderCmd() *cobra.Command {
	var (
		opts  signOpts
		side  string
		tif   string
		price string
		qty   uint64
	)
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Sign a limit order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, v, err := opts.signer()
			if err != nil {
				return err
			}

			var bookSide orderbook.Side
			switch strings.ToLower(side) {
			case "buy", "bid":
				bookSide = orderbook.Bid
			case "sell", "ask":
				bookSide = orderbook.Ask
			default:
				return fmt.Errorf("--side must be buy or sell, got %q", side)
			}
			var timeInForce orderbook.TimeInForce
			switch strings.ToUpper(tif) {
			case "GTC":
				timeInForce = orderbook.GTC
			case "IOC":
				timeInForce = orderbook.IOC
			default:
				return fmt.Errorf("--tif must be GTC or IOC, got %q", tif)
			}
			p, err := decimal.NewFromString(price)
			if err != nil {
				return fmt.Errorf("invalid --price %q: %w", price, err)
			}

			tx := transaction.NewOrderTx(opts.symbol, bookSide, p, qty, timeInForce, s.Address().Hex())
			tx.Order.Price = price // signed verbatim
			if err := v.Sign(tx, s, opts.nonce); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tx)
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVar(&side, "side", "buy", "buy or sell")
	cmd.Flags().StringVar(&tif, "tif", "GTC", "time in force: GTC or IOC")
	cmd.Flags().StringVar(&price, "price", "", "limit price")
	cmd.Flags().Uint64Var(&qty, "qty", 1, "size in lots")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func newCancelCmd() *cobra.Command {
	var (
		opts signOpts
		id   uint64
	)
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Sign a cancel for a resting order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, v, err := opts.signer()
			if err != nil {
				return err
			}
			tx := transaction.NewCancelTx(opts.symbol, orderbook.OrderID(id))
			if err := v.Sign(tx, s, opts.nonce); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tx)
		},
	}
	opts.register(cmd)
	cmd.Flags().Uint64Var(&id, "id", 0, "resting order id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
