package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wilhg/persist/examples/account"
	"github.com/wilhg/persist/pkg/actor"
	"github.com/wilhg/persist/pkg/errmodel"
	"github.com/wilhg/persist/pkg/persistence"
)

const codeRejected = "command_rejected"

func newAccountCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Drive the example bank account entities",
		Long: `Send one command to an account entity and print its reply.

Examples:
  persistd account deposit acc-1 100
  persistd account withdraw acc-1 30 --lock local
  persistd account balance acc-1 --format json
  persistd account rename acc-1 "Ada Lovelace"`,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "deposit <id> <amount>",
		Short: "Deposit an amount in cents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return askAccount(cmd, opts, args[0], func(to actor.Ref) account.Command {
				return account.Deposit{Amount: amount, ReplyTo: to}
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "withdraw <id> <amount>",
		Short: "Withdraw an amount in cents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return askAccount(cmd, opts, args[0], func(to actor.Ref) account.Command {
				return account.Withdraw{Amount: amount, ReplyTo: to}
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "balance <id>",
		Short: "Print the current balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return askAccount(cmd, opts, args[0], func(to actor.Ref) account.Command {
				return account.GetBalance{ReplyTo: to}
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rename <id> <holder>",
		Short: "Set the account holder name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return askProfile(cmd, opts, args[0], func(to actor.Ref) account.ProfileCommand {
				return account.Rename{Holder: args[1], ReplyTo: to}
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "profile <id>",
		Short: "Print the account holder details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return askProfile(cmd, opts, args[0], func(to actor.Ref) account.ProfileCommand {
				return account.GetProfile{ReplyTo: to}
			})
		},
	})
	return cmd
}

func parseAmount(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errmodel.Validation("invalid_amount", "amount must be an integer number of cents", map[string]any{"amount": s})
	}
	return n, nil
}

// askAccount recovers the account, handles one command and prints the reply.
func askAccount(cmd *cobra.Command, opts *rootOptions, name string, build func(actor.Ref) account.Command) error {
	ctx := cmd.Context()
	id, err := account.ID(name)
	if err != nil {
		return err
	}
	b, err := openBackend(ctx, opts.cfg, opts.logger)
	if err != nil {
		return err
	}
	defer b.Close()

	e, err := b.accountEngine(id)
	if err != nil {
		return err
	}
	inst, err := e.Recover(ctx)
	if err != nil {
		return err
	}
	var reply any
	inst, err = e.Handle(ctx, inst, actor.FuncContext{Name: "persistd"}, build(actor.RefFunc(func(m any) { reply = m })))
	if err != nil {
		return err
	}

	switch r := reply.(type) {
	case account.Confirmation:
		return printReply(cmd.OutOrStdout(), opts.format, id, map[string]any{
			"balance":     r.Balance,
			"sequence_nr": inst.SequenceNr,
		}, []string{"balance", "sequence_nr"})
	case account.Rejection:
		return rejected(id, r)
	default:
		return fmt.Errorf("unexpected reply %T", reply)
	}
}

// askProfile is askAccount for the durable-state profile.
func askProfile(cmd *cobra.Command, opts *rootOptions, name string, build func(actor.Ref) account.ProfileCommand) error {
	ctx := cmd.Context()
	id, err := account.ProfileID(name)
	if err != nil {
		return err
	}
	b, err := openBackend(ctx, opts.cfg, opts.logger)
	if err != nil {
		return err
	}
	defer b.Close()

	e, err := b.profileEngine(id)
	if err != nil {
		return err
	}
	inst, err := e.Recover(ctx)
	if err != nil {
		return err
	}
	var reply any
	inst, err = e.Handle(ctx, inst, actor.FuncContext{Name: "persistd"}, build(actor.RefFunc(func(m any) { reply = m })))
	if err != nil {
		return err
	}

	switch r := reply.(type) {
	case account.Profile:
		return printReply(cmd.OutOrStdout(), opts.format, id, map[string]any{
			"holder":  r.Holder,
			"renames": r.Renames,
			"version": inst.Version,
		}, []string{"holder", "renames", "version"})
	case account.Rejection:
		return rejected(id, r)
	default:
		return fmt.Errorf("unexpected reply %T", reply)
	}
}

func rejected(id persistence.ID, r account.Rejection) error {
	return errmodel.Validation(codeRejected, r.Reason, map[string]any{"persistence_id": id.String()})
}

func printReply(w io.Writer, format string, id persistence.ID, fields map[string]any, order []string) error {
	if format == "json" {
		fields["persistence_id"] = id.String()
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(fields)
	}
	fmt.Fprint(w, id.String())
	for _, k := range order {
		fmt.Fprintf(w, " %s=%v", k, fields[k])
	}
	fmt.Fprintln(w)
	return nil
}

