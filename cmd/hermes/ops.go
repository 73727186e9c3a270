package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/vignesh-goutham/hermes/pkg/claim"
	"github.com/vignesh-goutham/hermes/pkg/expiry"
	"github.com/vignesh-goutham/hermes/pkg/store"
	"github.com/vignesh-goutham/hermes/pkg/types"
)

var (
	purgeSymbol string
	purgeAction string
)

var purgeSignalCmd = &cobra.Command{
	Use:   "purge-signal <signal-id>",
	Short: "Remove a signal's attempt budget and claim from the shared store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := store.NewDynamoDBStore(ctx, dynamoRegion, tableName)
		if err != nil {
			return err
		}

		signalID := args[0]
		if err := st.Delete(ctx, expiry.AttemptKey(signalID)); err != nil {
			return fmt.Errorf("failed to purge attempt record: %w", err)
		}
		fmt.Printf("Purged attempt record for %s\n", signalID)

		if purgeSymbol != "" && purgeAction != "" {
			key := claim.Key(types.TradingDay(time.Now()), purgeSymbol, types.Action(strings.ToUpper(purgeAction)))
			if err := st.Delete(ctx, key); err != nil {
				return fmt.Errorf("failed to release claim: %w", err)
			}
			fmt.Printf("Released claim for %s %s\n", purgeSymbol, strings.ToUpper(purgeAction))
		}
		return nil
	},
}

var clearCooldownCmd = &cobra.Command{
	Use:   "clear-cooldown <symbol>",
	Short: "Lift the post-trade cooldown for a symbol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := store.NewDynamoDBStore(ctx, dynamoRegion, tableName)
		if err != nil {
			return err
		}

		symbol := strings.ToUpper(args[0])
		if err := st.Delete(ctx, "cooldown:"+symbol); err != nil {
			return fmt.Errorf("failed to clear cooldown: %w", err)
		}
		fmt.Printf("Cleared cooldown for %s\n", symbol)
		return nil
	},
}

var forceSweepCmd = &cobra.Command{
	Use:   "force-sweep",
	Short: "Delete claim and execution keys left over from previous trading days",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := store.NewDynamoDBStore(ctx, dynamoRegion, tableName)
		if err != nil {
			return err
		}

		today := types.TradingDay(time.Now())
		removed := 0
		for _, prefix := range []string{"claim:", "exec:"} {
			keys, err := st.ScanPrefix(ctx, prefix)
			if err != nil {
				return fmt.Errorf("failed to scan %s keys: %w", prefix, err)
			}
			for _, key := range keys {
				// Key layout: <prefix><day>:<symbol>:<action>
				if strings.HasPrefix(key, prefix+today) {
					continue
				}
				if err := st.Delete(ctx, key); err != nil {
					return fmt.Errorf("failed to delete %s: %w", key, err)
				}
				removed++
			}
		}
		fmt.Printf("Removed %d stale coordination keys\n", removed)
		return nil
	},
}

func init() {
	purgeSignalCmd.Flags().StringVar(&purgeSymbol, "symbol", "", "also release the claim for this symbol")
	purgeSignalCmd.Flags().StringVar(&purgeAction, "action", "", "claim action to release (BUY or SELL)")
	rootCmd.AddCommand(purgeSignalCmd, clearCooldownCmd, forceSweepCmd)
}
