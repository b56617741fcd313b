package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mercator-hq/chatrelay/pkg/config"
	"mercator-hq/chatrelay/pkg/security/secrets"
)

var keysFlags struct {
	output string
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage token signing keys",
	Long: `Generate the two HMAC keys that sign client and upstream tokens.

The client token key and the upstream token key must be independent; a
token signed with one is never accepted under the other.

Subcommands:
  generate - Generate a new pair of signing keys`,
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new pair of signing keys",
	Long: `Generate two independent random signing keys.

Without --output the keys are printed as environment variable
assignments for the "env" key provider. With --output they are written
as files for the "file" key provider, readable only by the owner.

Examples:
  # Print environment variables
  chatrelay keys generate

  # Write key files
  chatrelay keys generate --output /etc/chatrelay/keys`,
	RunE: generateKeys,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysGenerateCmd)

	keysGenerateCmd.Flags().StringVarP(&keysFlags.output, "output", "o", "", "write key files to this directory")
}

func generateKeys(cmd *cobra.Command, args []string) error {
	out := io.Writer(os.Stdout)
	if cmd != nil {
		out = cmd.OutOrStdout()
	}

	keys := config.NewDefaultConfig().Security.Keys
	names := []string{keys.ClientKey, keys.UpstreamKey}

	values := make([]string, len(names))
	for i := range names {
		v, err := secrets.GenerateKey()
		if err != nil {
			return err
		}
		values[i] = v
	}

	if keysFlags.output == "" {
		env := secrets.NewEnvProvider(keys.EnvPrefix)
		for i, name := range names {
			fmt.Fprintf(out, "%s=%s\n", env.EnvVar(name), values[i])
		}
		return nil
	}

	if err := os.MkdirAll(keysFlags.output, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for i, name := range names {
		path := filepath.Join(keysFlags.output, name)
		if err := writeKeyFile(path, values[i]); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		fmt.Fprintf(out, "Wrote %s\n", path)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "⚠️  Warning: Store keys securely and never commit them to version control")
	fmt.Fprintln(out, "Configuration snippet:")
	fmt.Fprintln(out, "security:")
	fmt.Fprintln(out, "  keys:")
	fmt.Fprintln(out, "    provider: file")
	fmt.Fprintf(out, "    dir: %q\n", keysFlags.output)
	return nil
}

func writeKeyFile(path, value string) error {
	// #nosec G304 - User-specified output path is expected behavior for a CLI tool.
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if err := file.Chmod(0600); err != nil {
		file.Close()
		return err
	}
	if _, err := file.WriteString(value + "\n"); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
