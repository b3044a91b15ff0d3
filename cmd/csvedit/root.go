package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/CsvEditor/internal/config"
	"github.com/JonMunkholm/CsvEditor/internal/core"
	"github.com/JonMunkholm/CsvEditor/internal/csvtable"
)

// maxInputSize bounds files read by the CLI. It is far above the server's
// default limit since nothing else competes for memory here.
const maxInputSize = 256 << 20

type rootOptions struct {
	delimiter   string
	crlf        bool
	quoteSpaces bool
	logger      *slog.Logger
}

// options builds the dialect from flags, falling back to CSV_* variables
// for anything not given on the command line.
func (o *rootOptions) options(cmd *cobra.Command) (csvtable.Options, error) {
	cfg, err := config.LoadFrom(os.LookupEnv)
	if err != nil {
		return csvtable.Options{}, err
	}
	csvCfg := cfg.CSV

	flags := cmd.Flags()
	if flags.Changed("delimiter") {
		csvCfg.Delimiter = o.delimiter
	}
	if flags.Changed("crlf") {
		csvCfg.LineEnding = "lf"
		if o.crlf {
			csvCfg.LineEnding = "crlf"
		}
	}
	if flags.Changed("quote-spaces") {
		csvCfg.QuoteSpaces = o.quoteSpaces
	}
	return csvCfg.Options()
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	opts := &rootOptions{logger: logger}

	root := &cobra.Command{
		Use:           "csvedit",
		Short:         "Normalize and inspect CSV files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.delimiter, "delimiter", "d", ",", `field delimiter, a single character or "tab"`)
	pf.BoolVar(&opts.crlf, "crlf", false, "write records separated by CRLF")
	pf.BoolVar(&opts.quoteSpaces, "quote-spaces", false, "quote fields with leading or trailing whitespace")

	root.AddCommand(newNormalizeCmd(opts), newInspectCmd(opts))
	return root
}

func newNormalizeCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "normalize [file]",
		Short: "Parse a file and write it back out in canonical form",
		Long: `Parses the file (stdin when omitted), drops blank rows, pads or
truncates ragged rows to the header width, and writes the result.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dialect, err := opts.options(cmd)
			if err != nil {
				return err
			}
			table, report, err := readTable(cmd, args, dialect)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			if err := csvtable.Write(out, table, dialect); err != nil {
				return err
			}
			if output == "" || output == "-" {
				fmt.Fprintln(out)
			}

			opts.logger.Info("normalized",
				"rows", table.Len(),
				"columns", table.Width(),
				"dropped_blank", report.DroppedBlank,
				"padded", report.Padded,
				"truncated", report.Truncated,
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func newInspectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [file]",
		Short: "Print headers, row count and parse notes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dialect, err := opts.options(cmd)
			if err != nil {
				return err
			}
			table, report, err := readTable(cmd, args, dialect)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "columns: %d\n", table.Width())
			for i, h := range table.Headers() {
				fmt.Fprintf(out, "  %d  %s\n", i, h)
			}
			fmt.Fprintf(out, "rows: %d\n", table.Len())
			fmt.Fprintf(out, "physical rows: %d\n", report.PhysicalRows)
			fmt.Fprintf(out, "blank rows dropped: %d\n", report.DroppedBlank)
			fmt.Fprintf(out, "short rows padded: %d\n", report.Padded)
			fmt.Fprintf(out, "long rows truncated: %d\n", report.Truncated)
			if report.UnterminatedQuote {
				fmt.Fprintln(out, "warning: unterminated quote at end of input")
			}
			return nil
		},
	}
}

// readTable reads the named file, or stdin, and parses it.
func readTable(cmd *cobra.Command, args []string, dialect csvtable.Options) (*csvtable.Table, csvtable.Report, error) {
	var (
		r    io.Reader = cmd.InOrStdin()
		name           = "stdin"
	)
	if len(args) == 1 && args[0] != "-" {
		name = args[0]
		if err := core.CheckFileName(name); err != nil {
			return nil, csvtable.Report{}, fmt.Errorf("%s: %w", name, err)
		}
		f, err := os.Open(name)
		if err != nil {
			return nil, csvtable.Report{}, err
		}
		defer f.Close()
		r = f
	}

	text, err := core.DecodeText(r, maxInputSize)
	if err != nil {
		return nil, csvtable.Report{}, fmt.Errorf("read %s: %w", name, err)
	}
	return csvtable.ParseWithReport(text, dialect)
}

// reportError prints err for a person at a terminal. Known failures get
// the same message and support code the editor shows; anything else is
// printed as is.
func reportError(w io.Writer, err error) {
	if core.IsUserFacing(err) {
		fmt.Fprintln(w, core.FormatUserError(err))
		fmt.Fprintf(w, "  detail: %v\n", err)
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}
