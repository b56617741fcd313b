/*
Package cli provides command-line helpers for the chatrelay command.

It holds the error types that map onto process exit codes, the output
formatters used by report-style subcommands, and signal handling for
long-running commands.

Output Formatting:

Reports can be printed as text or JSON:

	formatter, err := cli.NewFormatter(cli.FormatJSON)
	if err != nil {
		return err
	}
	if err := formatter.FormatTo(os.Stdout, report); err != nil {
		return err
	}

A value that implements TextWriter controls its own text rendering;
anything else is printed with %v.

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()
	// Use ctx for operations that should be cancelled on shutdown

Exit Codes:

ExitCode maps a command error to the process exit status: 2 for
configuration problems, 1 for everything else.
*/
package cli
