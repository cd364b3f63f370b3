package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const chainScenario = `
name: chain
description: "b follows a"
fields:
  - name: a
    value: 1
calcs:
  - name: b
    op: sum
    args: [a]
    add: 10
    retain: true
effects:
  - name: show
    args: [b]
steps:
  - flush: true
  - set: a
    value: 2
  - flush: true
assertions:
  - type: value
    node: b
    expect: 12
`

const failingScenario = `
name: failing
description: "expects the wrong value"
fields:
  - name: a
    value: 1
calcs:
  - name: b
    op: value
    args: [a]
    retain: true
assertions:
  - type: value
    node: b
    expect: 2
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs the root command with args and returns stdout, stderr and
// the command error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}
