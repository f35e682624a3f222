package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	cl "campton/internal/cli"
	"campton/internal/config"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()

	root := &cobra.Command{
		Use:          "camptonctl",
		Short:        "Operator CLI for the Campton Coin market daemon",
		SilenceUsage: true,
	}

	root.AddCommand(
		newPriceCmd(&cfg),
		newAccountCmd(&cfg),
		newLeaderboardCmd(&cfg),
		newSaveCmd(&cfg),
		newConvertCmd(&cfg),
		newSetPriceCmd(&cfg),
		newAdjustCmd(&cfg),
		newWatchCmd(&cfg),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(cfg *config.CLIConfig) *cl.Client {
	return cl.NewClient(cfg.APIBaseURL, cfg.AdminToken)
}

func newPriceCmd(cfg *config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "price",
		Short: "Show the current coin price and next conversion deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			info, err := newClient(cfg).Price(ctx)
			if err != nil {
				return err
			}
			renderPrice(info)
			return nil
		},
	}
}

func newAccountCmd(cfg *config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "account <user_id>",
		Short: "Show one account's balance and holdings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			acct, err := newClient(cfg).Account(ctx, strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			renderAccount(acct)
			return nil
		},
	}
}

func newLeaderboardCmd(cfg *config.CLIConfig) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show accounts ranked by net worth",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			rows, err := newClient(cfg).Leaderboard(ctx, limit)
			if err != nil {
				return err
			}
			renderLeaderboard(rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows to show")
	return cmd
}

func newSaveCmd(cfg *config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Force a backup save now (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			if err := newClient(cfg).ForceSave(ctx); err != nil {
				return err
			}
			printSuccess("Backup saved.")
			return nil
		},
	}
}

func newConvertCmd(cfg *config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "convert",
		Short: "Trigger the scheduled conversion now (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := newClient(cfg).ForceConvert(ctx); err != nil {
				return err
			}
			printSuccess("Conversion triggered.")
			return nil
		},
	}
}

func newSetPriceCmd(cfg *config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "setprice <price>",
		Short: "Override the coin price (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := decimal.NewFromString(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid price %q", args[0])
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			applied, err := newClient(cfg).SetPrice(ctx, price)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Price set to $%s.", applied.StringFixed(2)))
			return nil
		},
	}
}

func newAdjustCmd(cfg *config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "adjust <user_id> <cash|coin> <amount>",
		Short: "Credit cash or coins to an account (admin)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := strings.ToLower(strings.TrimSpace(args[1]))
			if kind != "cash" && kind != "coin" {
				return fmt.Errorf("kind must be cash or coin")
			}
			amount, err := decimal.NewFromString(strings.TrimSpace(args[2]))
			if err != nil {
				return fmt.Errorf("invalid amount %q", args[2])
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			after, err := newClient(cfg).Adjust(ctx, strings.TrimSpace(args[0]), kind, amount)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Credited %s %s; new total %s.", amount.String(), kind, after.String()))
			return nil
		},
	}
}
