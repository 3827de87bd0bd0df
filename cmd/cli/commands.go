package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

func tokenCmd(c *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "token <address> <role>",
		Short: "Issue a bearer token (admin only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd.Context(), http.MethodPost, "/api/v1/admin/tokens", map[string]string{
				"address": args[0],
				"role":    args[1],
			})
		},
	}
}

func orderCmd(c *apiClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Exchange order operations",
	}

	var create struct {
		asset, agent, amount, price, side, counterpart string
	}
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an order, committing the offered amount",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd.Context(), http.MethodPost, "/api/v1/exchange/orders", map[string]string{
				"asset":       create.asset,
				"agent":       create.agent,
				"amount":      create.amount,
				"price":       create.price,
				"side":        create.side,
				"counterpart": create.counterpart,
			})
		},
	}
	createCmd.Flags().StringVar(&create.asset, "asset", "", "Asset address")
	createCmd.Flags().StringVar(&create.agent, "agent", "", "Payment agent address")
	createCmd.Flags().StringVar(&create.amount, "amount", "", "Amount offered")
	createCmd.Flags().StringVar(&create.price, "price", "", "Price per unit")
	createCmd.Flags().StringVar(&create.side, "side", "", "sell or buy (two-sided books only)")
	createCmd.Flags().StringVar(&create.counterpart, "counterpart", "", "Only this address may take the order")
	for _, name := range []string{"asset", "agent", "amount", "price"} {
		_ = createCmd.MarkFlagRequired(name)
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an order and release its remaining commitment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd.Context(), http.MethodPost, "/api/v1/exchange/orders/"+url.PathEscape(args[0])+"/cancel", nil)
		},
	}

	var execute struct{ amount, side string }
	executeCmd := &cobra.Command{
		Use:   "execute <id>",
		Short: "Take an order, opening a settlement agreement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd.Context(), http.MethodPost, "/api/v1/exchange/orders/"+url.PathEscape(args[0])+"/execute", map[string]string{
				"amount": execute.amount,
				"side":   execute.side,
			})
		},
	}
	executeCmd.Flags().StringVar(&execute.amount, "amount", "", "Amount to take")
	executeCmd.Flags().StringVar(&execute.side, "side", "", "Taker side (two-sided books only)")

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd.Context(), http.MethodGet, "/api/v1/ledger/exchange/orders/"+url.PathEscape(args[0]), nil)
		},
	}

	cmd.AddCommand(createCmd, cancelCmd, executeCmd, getCmd)
	return cmd
}

func agreementCmd(c *apiClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agreement",
		Short: "Settlement agreement operations (payment agent)",
	}

	for _, action := range []struct{ use, short string }{
		{"confirm", "Confirm payment and settle the agreement"},
		{"cancel", "Cancel the agreement and return the amount to the order"},
	} {
		cmd.AddCommand(&cobra.Command{
			Use:   action.use + " <order-id> <agreement-id>",
			Short: action.short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				path := fmt.Sprintf("/api/v1/exchange/orders/%s/agreements/%s/%s", url.PathEscape(args[0]), url.PathEscape(args[1]), action.use)
				return c.call(cmd.Context(), http.MethodPost, path, nil)
			},
		})
	}
	return cmd
}

func escrowCmd(c *apiClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "escrow",
		Short: "Escrow operations",
	}

	var create struct {
		asset, recipient, agent, amount, applicationData, memo string
	}
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Lock funds for a recipient until the agent finishes the escrow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd.Context(), http.MethodPost, "/api/v1/escrow/escrows", map[string]string{
				"asset":            create.asset,
				"recipient":        create.recipient,
				"agent":            create.agent,
				"amount":           create.amount,
				"application_data": create.applicationData,
				"memo":             create.memo,
			})
		},
	}
	createCmd.Flags().StringVar(&create.asset, "asset", "", "Asset address")
	createCmd.Flags().StringVar(&create.recipient, "recipient", "", "Recipient address")
	createCmd.Flags().StringVar(&create.agent, "agent", "", "Agent address")
	createCmd.Flags().StringVar(&create.amount, "amount", "", "Amount to lock")
	createCmd.Flags().StringVar(&create.applicationData, "application-data", "", "Data sent with the transfer application")
	createCmd.Flags().StringVar(&create.memo, "memo", "", "Free-form memo")
	for _, name := range []string{"asset", "recipient", "agent", "amount"} {
		_ = createCmd.MarkFlagRequired(name)
	}

	for _, action := range []struct{ use, short string }{
		{"cancel", "Cancel the escrow and unlock the funds"},
		{"finish", "Release the escrow to the recipient (agent)"},
	} {
		cmd.AddCommand(&cobra.Command{
			Use:   action.use + " <id>",
			Short: action.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.call(cmd.Context(), http.MethodPost, "/api/v1/escrow/escrows/"+url.PathEscape(args[0])+"/"+action.use, nil)
			},
		})
	}

	var approvalData string
	approveCmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve the pending transfer of a finished escrow (asset approver)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd.Context(), http.MethodPost, "/api/v1/escrow/escrows/"+url.PathEscape(args[0])+"/approve", map[string]string{
				"approval_data": approvalData,
			})
		},
	}
	approveCmd.Flags().StringVar(&approvalData, "data", "", "Approval data")

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show an escrow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd.Context(), http.MethodGet, "/api/v1/ledger/escrow/escrows/"+url.PathEscape(args[0]), nil)
		},
	}

	cmd.AddCommand(createCmd, approveCmd, getCmd)
	return cmd
}

func depositCmd(c *apiClient) *cobra.Command {
	var store, from, amount string
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Deliver a deposit notification (asset collaborator)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd.Context(), http.MethodPost, "/api/v1/"+url.PathEscape(store)+"/deposits", map[string]string{
				"from":   from,
				"amount": amount,
			})
		},
	}
	cmd.Flags().StringVar(&store, "store", "exchange", "exchange or escrow")
	cmd.Flags().StringVar(&from, "from", "", "Depositor address")
	cmd.Flags().StringVar(&amount, "amount", "", "Deposited amount")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func withdrawCmd(c *apiClient) *cobra.Command {
	var store, asset string
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Withdraw the caller's whole available balance of an asset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd.Context(), http.MethodPost, "/api/v1/"+url.PathEscape(store)+"/withdrawals", map[string]string{
				"asset": asset,
			})
		},
	}
	cmd.Flags().StringVar(&store, "store", "exchange", "exchange or escrow")
	cmd.Flags().StringVar(&asset, "asset", "", "Asset address")
	_ = cmd.MarkFlagRequired("asset")
	return cmd
}

func adminCmd(c *apiClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative operations",
	}

	upgradeCmd := &cobra.Command{
		Use:   "upgrade <store> <writer>",
		Short: "Point a ledger store at a new engine version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd.Context(), http.MethodPost, "/api/v1/admin/upgrade", map[string]string{
				"store":  args[0],
				"writer": args[1],
			})
		},
	}

	versionsCmd := &cobra.Command{
		Use:   "versions",
		Short: "List stores with their current and available engine versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd.Context(), http.MethodGet, "/api/v1/admin/versions", nil)
		},
	}

	var untradable bool
	assetCmd := &cobra.Command{
		Use:   "asset <address>",
		Short: "Set whether an asset is tradable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd.Context(), http.MethodPut, "/api/v1/admin/assets/"+url.PathEscape(args[0]), map[string]bool{
				"tradable": !untradable,
			})
		},
	}
	assetCmd.Flags().BoolVar(&untradable, "freeze", false, "Mark the asset untradable")

	cmd.AddCommand(upgradeCmd, versionsCmd, assetCmd)
	return cmd
}

func ledgerCmd(c *apiClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Ledger operations",
	}

	consistencyCmd := &cobra.Command{
		Use:   "consistency [store]",
		Short: "Check ledger consistency; without a store every store is reconciled against storage",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/ledger/reconciliation"
			if len(args) == 1 {
				path = "/api/v1/ledger/" + url.PathEscape(args[0]) + "/consistency"
			}
			data, err := c.do(cmd.Context(), http.MethodGet, path, nil)
			if err != nil {
				return fmt.Errorf("consistency check FAILED: %w", err)
			}
			if err := printJSON(c.out, data); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "Consistency check PASSED")
			return nil
		},
	}

	balancesCmd := &cobra.Command{
		Use:   "balances <store> <owner>",
		Short: "Show an owner's balances and commitments",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd.Context(), http.MethodGet, "/api/v1/ledger/"+url.PathEscape(args[0])+"/balances/"+url.PathEscape(args[1]), nil)
		},
	}

	summaryCmd := &cobra.Command{
		Use:   "summary <store>",
		Short: "Show a store's writer and counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd.Context(), http.MethodGet, "/api/v1/ledger/"+url.PathEscape(args[0]), nil)
		},
	}

	cmd.AddCommand(consistencyCmd, balancesCmd, summaryCmd)
	return cmd
}

func eventsCmd(c *apiClient) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events <aggregate-type> <aggregate-id>",
		Short: "List outbox events of an aggregate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("aggregate_type", args[0])
			q.Set("aggregate_id", args[1])
			q.Set("limit", fmt.Sprint(limit))
			data, err := c.do(cmd.Context(), http.MethodGet, "/api/v1/events?"+q.Encode(), nil)
			if err != nil {
				return err
			}
			var events []json.RawMessage
			if err := json.Unmarshal(data, &events); err == nil && len(events) == 0 {
				fmt.Fprintln(c.out, "no events")
				return nil
			}
			return printJSON(c.out, data)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of events")
	return cmd
}
