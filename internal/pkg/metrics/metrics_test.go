package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetBuildInfo(t *testing.T) {
	SetBuildInfo("0.1.0", "abc123")
	SetBuildInfo("0.2.0", "def456")

	expected := `
# HELP clubmail_build_info Build metadata of the running binary, always 1
# TYPE clubmail_build_info gauge
clubmail_build_info{commit="def456",version="0.2.0"} 1
`
	require.NoError(t, testutil.CollectAndCompare(buildInfo, strings.NewReader(expected)))
	assert.Equal(t, 1, testutil.CollectAndCount(buildInfo))
}
