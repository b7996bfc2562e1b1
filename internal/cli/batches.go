package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/softnav/internal/store"
)

// BatchesOptions holds flags for the batches command.
type BatchesOptions struct {
	*RootOptions
	Database    string
	Limit       int
	BatchID     int64
	Interaction string
}

// BatchesResult is the listing of stored batches.
type BatchesResult struct {
	Total   int                  `json:"total"`
	Batches []store.BatchSummary `json:"batches"`
}

// RecordsResult is the listing of stored records.
type RecordsResult struct {
	BatchID     int64          `json:"batch_id,omitempty"`
	Interaction string         `json:"interaction,omitempty"`
	Payload     string         `json:"payload,omitempty"`
	Records     []store.Record `json:"records"`
}

// NewBatchesCommand creates the batches command.
func NewBatchesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BatchesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "batches",
		Short: "Inspect batches stored by the collector",
		Long: `List the batches the collector stored, show the records of one batch,
or follow one interaction across batches (an interaction stored more than
once was resent after a retry).

Examples:
  softnav batches --db ./softnav.db
  softnav batches --db ./softnav.db --batch 3 --verbose
  softnav batches --db ./softnav.db --interaction 7b0c5d1e-... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatches(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of batches to list (0 = all)")
	cmd.Flags().Int64Var(&opts.BatchID, "batch", 0, "show the records of one batch")
	cmd.Flags().StringVar(&opts.Interaction, "interaction", "", "show every record of one interaction")
	cmd.MarkFlagsMutuallyExclusive("batch", "interaction")

	return cmd
}

func runBatches(opts *BatchesOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFormatter(opts.RootOptions, cmd)

	// Opening a missing path would silently create an empty database.
	if _, err := os.Stat(opts.Database); os.IsNotExist(err) {
		return f.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("database not found: %s", opts.Database), nil)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	switch {
	case opts.BatchID != 0:
		return showBatch(ctx, f, st, opts.BatchID, cmd.OutOrStdout())
	case opts.Interaction != "":
		return showInteraction(ctx, f, st, opts.Interaction, cmd.OutOrStdout())
	default:
		return listBatches(ctx, f, st, opts.Limit, cmd.OutOrStdout())
	}
}

func listBatches(ctx context.Context, f *OutputFormatter, st *store.Store, limit int, w io.Writer) error {
	total, err := st.CountBatches(ctx)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "failed to count batches", err)
	}
	batches, err := st.ReadBatches(ctx, limit)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "failed to read batches", err)
	}

	if f.JSON() {
		return f.Success(BatchesResult{Total: total, Batches: batches})
	}
	if total == 0 {
		fmt.Fprintln(w, "No batches stored.")
		return nil
	}
	fmt.Fprintf(w, "%d batch(es) stored\n\n", total)
	for _, b := range batches {
		fmt.Fprintf(w, "  #%-4d %s  %-6s %3d record(s)  key=%s\n",
			b.ID, b.ReceivedAt.Format(time.RFC3339), b.Version, b.RecordCount, b.LicenseKey)
	}
	return nil
}

func showBatch(ctx context.Context, f *OutputFormatter, st *store.Store, id int64, w io.Writer) error {
	payload, err := st.ReadPayload(ctx, id)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("batch %d not found", id), err)
	}
	records, err := st.ReadRecords(ctx, id)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "failed to read records", err)
	}

	res := RecordsResult{BatchID: id, Records: records}
	if f.Verbose {
		res.Payload = payload
	}
	if f.JSON() {
		return f.Success(res)
	}

	fmt.Fprintf(w, "Batch #%d: %d record(s)\n\n", id, len(records))
	printRecords(w, records)
	if f.Verbose {
		fmt.Fprintf(w, "\nPayload:\n  %s\n", payload)
	}
	return nil
}

func showInteraction(ctx context.Context, f *OutputFormatter, st *store.Store, id string, w io.Writer) error {
	records, err := st.ReadInteraction(ctx, id)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "failed to read records", err)
	}
	if len(records) == 0 {
		return f.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("interaction %s not found", id), nil)
	}

	if f.JSON() {
		return f.Success(RecordsResult{Interaction: id, Records: records})
	}
	fmt.Fprintf(w, "Interaction %s: stored %d time(s)\n\n", id, len(records))
	printRecords(w, records)
	return nil
}

func printRecords(w io.Writer, records []store.Record) {
	for _, r := range records {
		server := "-"
		if r.ServerStart != 0 {
			server = time.UnixMilli(r.ServerStart).UTC().Format(time.RFC3339Nano)
		}
		fmt.Fprintf(w, "  [%d/%d] %s %-10s %-17s start=%d duration=%d server=%s\n",
			r.BatchID, r.Index, r.InteractionID, r.Trigger, r.Category, r.Start, r.Duration, server)
	}
}
