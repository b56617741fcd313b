package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

const validConfigYAML = `
server:
  listen_address: "127.0.0.1:0"
session:
  allowed_origins:
    - example.com
    - "*.example.org"
upstream:
  webhook_url: "http://127.0.0.1:5678/webhook/chat"
`

// writeConfig writes content to a config file in a temp dir and points the
// global --config flag at it for the duration of the test.
func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	orig := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = orig })
	return path
}

// testCommand returns a command whose output is captured in the buffer.
func testCommand() (*cobra.Command, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	return cmd, buf
}
