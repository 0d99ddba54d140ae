package banner

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	assert.NoError(t, err)
	os.Stdout = w

	fn()

	assert.NoError(t, w.Close())
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

func TestLogoContainsName(t *testing.T) {
	assert.Contains(t, Logo, "DAGSCHED")
	assert.Contains(t, SmallLogo, "DAGSCHED")
}

func TestPrintVersion(t *testing.T) {
	oldVersion, oldCommit, oldBuild := Version, GitCommit, BuildTime
	Version, GitCommit, BuildTime = "1.2.3", "abcdef", "2026-01-01T00:00:00Z"
	defer func() { Version, GitCommit, BuildTime = oldVersion, oldCommit, oldBuild }()

	out := captureStdout(t, PrintVersion)
	assert.Contains(t, out, "dagsched v1.2.3")
	assert.Contains(t, out, "Git Commit: abcdef")
	assert.False(t, strings.Contains(out, "_______________"))
}

func TestPrintSmallIsSmallerThanLogo(t *testing.T) {
	out := captureStdout(t, PrintSmall)
	assert.Less(t, len(out), len(Logo))
	assert.True(t, strings.HasSuffix(out, "\n"))
}
