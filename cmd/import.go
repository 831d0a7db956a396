package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blnkfinance/intake"
	"github.com/blnkfinance/intake/model"
	"github.com/spf13/cobra"
)

// importCommands uploads a local file as a batch. Without a queue the batch
// is processed in this process; with one it is queued, and --wait polls
// until the workers finish it.
func importCommands(b *intakeInstance) *cobra.Command {
	var wait bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:       "import <kind> <file>",
		Short:     "import a payments, traffic_fines, balances or customers file",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"payments", "traffic_fines", "balances", "customers"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runImport(ctx, b, model.ImportKind(args[0]), args[1], wait, timeout)
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "wait for queued batches to finish")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "how long --wait polls (default from poll.timeout_sec)")
	return cmd
}

func runImport(ctx context.Context, b *intakeInstance, kind model.ImportKind, path string, wait bool, timeout time.Duration) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	batch, err := b.intake.UploadImportFile(ctx, kind, filepath.Base(path), f)
	if err != nil {
		var schemaErr *intake.SchemaError
		if errors.As(err, &schemaErr) && batch != nil {
			_ = printJSON(batch.Summary())
		}
		return err
	}

	if b.queue == nil {
		status, err := b.intake.ProcessImport(ctx, batch.BatchID)
		if status != nil {
			_ = printJSON(status)
		}
		return err
	}

	if err := b.intake.StartImport(ctx, batch.BatchID); err != nil {
		return err
	}
	if !wait {
		fmt.Printf("queued import batch %s\n", batch.BatchID)
		return nil
	}

	if timeout <= 0 {
		timeout = b.cnf.Poll.Timeout()
	}
	status, err := b.intake.WaitForBatch(ctx, batch.BatchID, b.cnf.Poll.Interval(), timeout)
	_ = printJSON(status)
	return err
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
