package integration

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
)

// digestRE matches any sha256 digest in CLI output.
var digestRE = regexp.MustCompile(`sha256:[0-9a-f]{64}`)

// runStevedore executes the built binary and returns stdout, stderr, and
// the exit code.
func runStevedore(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	return runStevedoreIn(t, "", nil, args...)
}

// runStevedoreIn is runStevedore with a working directory and extra
// environment variables, for config discovery and env override tests.
func runStevedoreIn(t *testing.T, dir string, env []string, args ...string) (string, string, int) {
	t.Helper()

	cmd := exec.Command(binaryPath, args...)
	cmd.Env = append(os.Environ(), "GOCOVERDIR="+coverageDir)
	cmd.Env = append(cmd.Env, env...)
	cmd.Dir = dir

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	var exitCode int
	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			t.Fatalf("command failed to start: %v", err)
		}
	}

	return outBuf.String(), errBuf.String(), exitCode
}

// scrub rewrites the dynamic parts of CLI output (the mock registry's
// host:port and content digests) so snapshots stay stable across runs.
func scrub(output string) string {
	output = strings.ReplaceAll(output, "\r\n", "\n")
	output = strings.ReplaceAll(output, mockRegistry.Host(), "registry.test")
	return digestRE.ReplaceAllString(output, "sha256:REDACTED")
}
