package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docflow/internal/chunker"
	"github.com/dgallion1/docflow/internal/doctree"
	"github.com/dgallion1/docflow/internal/loader"
	"github.com/dgallion1/docflow/internal/parser"
	"github.com/dgallion1/docflow/internal/pipeline"
)

var loadCmd = &cobra.Command{
	Use:   "load SOURCE",
	Short: "Load a document",
	Long:  `Load a file, a URL (http, https or s3) or "-" for stdin and print the Document.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runLoad,
}

var chunkCmd = &cobra.Command{
	Use:   "chunk DOC.json",
	Short: "Split a loaded document into chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runChunk,
}

var parseCmd = &cobra.Command{
	Use:   "parse DOC.json CHUNKS.json",
	Short: "Parse chunks into records",
	Args:  cobra.ExactArgs(2),
	RunE:  runParse,
}

var runCmd = &cobra.Command{
	Use:   "run SOURCE",
	Short: "Load, chunk and parse a document",
	Long:  `Run the whole pipeline and print the result. Interrupting the run prints what finished so far.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runPipeline,
}

func init() {
	addLoadFlags(loadCmd)
	addChunkFlags(chunkCmd)
	addParseFlags(parseCmd)

	addLoadFlags(runCmd)
	addChunkFlags(runCmd)
	addParseFlags(runCmd)
	runCmd.Flags().IntVar(&workers, "workers", 0, "Parallel chunk parsers (default: number of CPUs)")

	rootCmd.AddCommand(loadCmd, chunkCmd, parseCmd, runCmd)
}

func runLoad(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := newLogger(cmd.ErrOrStderr())

	src := sourceFor(args[0], cmd.InOrStdin())
	opts, err := loadOptions(ctx, src, log)
	if err != nil {
		return err
	}
	doc, err := loader.Load(ctx, src, opts)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), doc)
}

func readDocument(path string) (doctree.Document, error) {
	var doc doctree.Document
	if err := readJSON(path, &doc); err != nil {
		return doc, err
	}
	doc.Length = utf8.RuneCountInString(doc.Text)
	if len(doc.LineStarts) == 0 {
		doc.LineStarts = doctree.BuildLineStarts(doc.Text)
	}
	return doc, nil
}

func runChunk(cmd *cobra.Command, args []string) error {
	doc, err := readDocument(args[0])
	if err != nil {
		return err
	}
	chunks, err := chunker.Chunk(doc, chunkConfig(cmd))
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), chunks)
}

func runParse(cmd *cobra.Command, args []string) error {
	doc, err := readDocument(args[0])
	if err != nil {
		return err
	}
	var chunks []doctree.Chunk
	if err := readJSON(args[1], &chunks); err != nil {
		return err
	}
	pcfg, err := parseConfig()
	if err != nil {
		return err
	}
	g, err := parser.Compile(pcfg)
	if err != nil {
		return err
	}

	records, errs := pipeline.ParseChunks(cmd.Context(), g, doc, chunks)
	return writeJSON(cmd.OutOrStdout(), map[string]any{"records": records, "errors": errs})
}

// errRunFailed is returned after printing a result whose outcome is failed.
var errRunFailed = errors.New("run failed")

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := newLogger(cmd.ErrOrStderr())

	src := sourceFor(args[0], cmd.InOrStdin())
	opts, err := loadOptions(ctx, src, log)
	if err != nil {
		return err
	}
	pcfg, err := parseConfig()
	if err != nil {
		return err
	}

	coord := pipeline.NewCoordinator(workers, log, nil)
	res := coord.Run(ctx, src, opts, chunkConfig(cmd), pcfg)
	if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if res.Outcome() == doctree.OutcomeFailed {
		return fmt.Errorf("%w: %s", errRunFailed, res.Errors[0].Error())
	}
	return nil
}
