package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/debugflow/internal/instrument"
	"github.com/JakeFAU/debugflow/internal/pipeline"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

type traceOptions struct {
	printCode bool
	noWrap    bool
}

// newTraceCmd creates the 'trace' subcommand.
func newTraceCmd() *cobra.Command {
	var opts traceOptions

	cmd := &cobra.Command{
		Use:   "trace <file|->",
		Short: "Replays a local script and prints the recorded call flow",
		Long: `Instruments a local JavaScript file the same way the web service does and
runs it in a sandboxed interpreter with no DOM, printing the recorded calls and
arguments as JSON. With --print-code it prints the instrumented program that the
page would hand to the browser instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd, args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.printCode, "print-code", false, "print the instrumented program instead of running it")
	cmd.Flags().BoolVar(&opts.noWrap, "no-wrap", false, "skip the debugger preamble and done() postamble")
	return cmd
}

func runTrace(cmd *cobra.Command, path string, opts traceOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	source, err := readSource(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}
	logger := appInstance.Logger()
	logger.Debug("script loaded", zap.String("path", path), zap.String("size", humanize.Bytes(uint64(len(source)))))

	if !opts.noWrap {
		source = pipeline.Wrap(source)
	}

	out := cmd.OutOrStdout()
	if opts.printCode {
		code, err := instrument.NewTracer().Instrument(source, pipeline.RecordCallHook)
		if err != nil {
			return fmt.Errorf("instrument: %w", err)
		}
		_, err = io.WriteString(out, code)
		return err
	}

	rec, runErr := appInstance.TraceRunner().Run(cmd.Context(), source)
	payload, err := jsonAPI.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode recording: %w", err)
	}
	if _, err := fmt.Fprintln(out, string(payload)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s calls recorded from %s\n",
		humanize.Comma(int64(rec.Len())), humanize.Bytes(uint64(len(source))))
	if runErr != nil {
		return fmt.Errorf("trace %s: %w", path, runErr)
	}
	return nil
}

func readSource(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
