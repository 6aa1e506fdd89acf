package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"chainfetch/internal/app"
	"chainfetch/internal/config"
	"chainfetch/internal/logx"
	"chainfetch/internal/provider"
)

type options struct {
	configPath string
	chain      string
	timeout    time.Duration
	fresh      bool
	verbose    bool

	flush func()
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "fetch",
		Short:         "Fetch NFT, balance and contract data through the provider chains",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
	f.StringVar(&opts.chain, "chain", "eth", "chain name or alias (eth, polygon, base ...)")
	f.DurationVar(&opts.timeout, "timeout", 15*time.Second, "how long to wait for a result")
	f.BoolVar(&opts.fresh, "fresh", false, "drop the cached entry before fetching")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	cmd.AddCommand(
		newFetchCmd(opts, "nft <contract> <token-id>", "Fetch NFT metadata", 2, func(chain string, args []string) provider.Request {
			return provider.NFTMetadata(chain, args[0], args[1])
		}),
		newFetchCmd(opts, "balances <address>", "Fetch ERC-20 balances of an address", 1, func(chain string, args []string) provider.Request {
			return provider.TokenBalances(chain, args[0])
		}),
		newFetchCmd(opts, "contract <address>", "Fetch contract metadata", 1, func(chain string, args []string) provider.Request {
			return provider.ContractMetadata(chain, args[0])
		}),
		newInvalidateCmd(opts),
	)
	return cmd
}

func newFetchCmd(opts *options, use, short string, nargs int, build func(chain string, args []string) provider.Request) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := build(opts.chain, args).Normalized()
			if err := req.Validate(); err != nil {
				return err
			}

			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer opts.close(a)

			if opts.fresh {
				a.Coordinator.Invalidate(cmd.Context(), req.Fingerprint().String())
			}
			resp, err := a.Coordinator.Fetch(cmd.Context(), req, opts.timeout)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp.Envelope())
		},
	}
}

func newInvalidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <scope-or-fingerprint>",
		Short: "Drop cached entries (useful with a shared redis cache)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer opts.close(a)

			n := a.Coordinator.Invalidate(cmd.Context(), args[0])
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries under %s\n", n, args[0])
			return err
		},
	}
}

func (o *options) open(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var log logx.Logger = logx.Nop{}
	if o.verbose {
		l, flush, err := logx.New(cfg.Log.Backend, cfg.Log.Level)
		if err != nil {
			return nil, err
		}
		o.flush = flush
		log = l
	}
	return app.New(ctx, cfg, log, nil)
}

func (o *options) close(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Close(ctx)
	if o.flush != nil {
		o.flush()
	}
}
