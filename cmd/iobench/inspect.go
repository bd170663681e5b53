package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/weiihann/iobench/chunk"
	"github.com/weiihann/iobench/format"
	"github.com/weiihann/iobench/table"
)

type parseFlags struct {
	sampleRows int
	nullToken  string
	delimiter  string
	inference  string
}

func (p *parseFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.IntVar(&p.sampleRows, "sample-rows", format.DefaultSampleRows,
		"Rows inspected by sampling and fast inference")
	flags.StringVar(&p.nullToken, "null-token", "NA",
		"Token read as a missing value")
	flags.StringVar(&p.delimiter, "delimiter", ",",
		"Field delimiter")
}

func (p *parseFlags) options(logger *slog.Logger) (format.Options, error) {
	d, size := utf8.DecodeRuneInString(p.delimiter)
	if size == 0 || size != len(p.delimiter) {
		return format.Options{}, fmt.Errorf("invalid delimiter %q", p.delimiter)
	}

	mode, err := format.ParseInferenceMode(p.inference)
	if err != nil {
		return format.Options{}, err
	}

	return format.Options{
		Inference:  mode,
		SampleRows: p.sampleRows,
		NullToken:  p.nullToken,
		Delimiter:  d,
		Logger:     logger,
	}, nil
}

func newInferCmd(logger *slog.Logger) *cobra.Command {
	var pf parseFlags

	cmd := &cobra.Command{
		Use:   "infer <file>",
		Short: "Show the column types each inference mode assigns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inferTypes(cmd.Context(), logger, cmd.OutOrStdout(), args[0], pf)
		},
	}

	pf.register(cmd)

	return cmd
}

func inferTypes(ctx context.Context, logger *slog.Logger, out io.Writer, path string, pf parseFlags) error {
	modes := []format.InferenceMode{format.Strict, format.Sampling, format.Fast}
	tables := make([]*table.Table, len(modes))

	for i, m := range modes {
		pf.inference = m.String()

		opts, err := pf.options(logger)
		if err != nil {
			return err
		}

		tables[i], err = format.NewDelimited(opts).Read(ctx, path)
		if err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "| Column | strict | sampling | fast |")
	fmt.Fprintln(out, "|--------|--------|----------|------|")

	for c, col := range tables[0].Columns {
		fmt.Fprintf(out, "| %s | %s | %s | %s |\n",
			col.Name,
			describeColumn(tables[0].Columns[c]),
			describeColumn(tables[1].Columns[c]),
			describeColumn(tables[2].Columns[c]),
		)
	}

	for i, m := range modes {
		if len(tables[i].Diagnostics) == 0 {
			continue
		}

		fmt.Fprintln(out)
		fmt.Fprintf(out, "%s: %d diagnostics\n", m, len(tables[i].Diagnostics))

		for j, d := range tables[i].Diagnostics {
			if j == 10 {
				fmt.Fprintf(out, "  ... %d more\n", len(tables[i].Diagnostics)-j)

				break
			}
			fmt.Fprintf(out, "  %s\n", d)
		}
	}

	return nil
}

func describeColumn(c *table.Column) string {
	if n := c.NullCount(); n > 0 {
		return fmt.Sprintf("%s (%d null)", c.Type, n)
	}

	return c.Type.String()
}

func newChunksCmd(logger *slog.Logger) *cobra.Command {
	var (
		pf        parseFlags
		chunkSize int64
	)

	cmd := &cobra.Command{
		Use:   "chunks <file>",
		Short: "Stream a delimited file in chunks and list them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return listChunks(cmd.Context(), logger, cmd.OutOrStdout(), args[0], chunkSize, pf)
		},
	}

	pf.register(cmd)
	cmd.Flags().StringVar(&pf.inference, "inference", "strict",
		"Type inference: strict, sampling, fast")
	cmd.Flags().Int64Var(&chunkSize, "chunk-size", 1<<20,
		"Chunk size in bytes")

	return cmd
}

func listChunks(
	ctx context.Context,
	logger *slog.Logger,
	out io.Writer,
	path string,
	chunkSize int64,
	pf parseFlags,
) error {
	opts, err := pf.options(logger)
	if err != nil {
		return err
	}

	s, err := chunk.Open(path, chunkSize, format.NewDelimited(opts))
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Fprintln(out, "| Chunk | Offset | Length | Rows | Diagnostics |")
	fmt.Fprintln(out, "|-------|--------|--------|------|-------------|")

	var (
		n     int
		rows  int
		bytes int64
	)

	for {
		t, ch, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "| %d | %d | %d | %d | %d |\n",
			n, ch.Offset, ch.Length, t.NumRows(), len(t.Diagnostics))

		n++
		rows += t.NumRows()
		bytes += ch.Length
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%d chunks, %d rows, %d bytes, columns: %v\n", n, rows, bytes, s.Header())

	return nil
}
