package util

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintBanner(t *testing.T) {
	lines := BannerLines("sim")
	require.NotEmpty(t, lines)

	var plain bytes.Buffer
	PrintBanner(&plain, "sim", "", "v1")
	assert.NotContains(t, plain.String(), "\x1b[")
	assert.True(t, strings.HasSuffix(plain.String(), "v1\n"))
	assert.Contains(t, plain.String(), lines[0])

	var colored bytes.Buffer
	PrintBanner(&colored, "sim", "cyan", "")
	assert.True(t, strings.HasPrefix(colored.String(), ColorCyan))
	assert.Equal(t, len(lines), strings.Count(colored.String(), ColorReset))
}
