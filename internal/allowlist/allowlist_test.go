package allowlist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
allowed:
  - name: requests
    constraint: ">=2.28.0, <3.0.0"
  - name: numpy
    constraint: "^1.26.0"
  - name: pycurl
    constraint: ">=7.0.0"
blocked:
  - pycurl
`

func TestAllowedAcceptsSatisfyingConstraint(t *testing.T) {
	a, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.True(t, a.Allowed("requests", "2.31.0"))
}

func TestAllowedRejectsUnsatisfyingVersion(t *testing.T) {
	a, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.False(t, a.Allowed("requests", "3.1.0"))
}

func TestAllowedRejectsUnknownPackage(t *testing.T) {
	a, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.False(t, a.Allowed("left-pad", "1.0.0"))
}

func TestAllowedRejectsBlockedPackageEvenIfListedElsewhere(t *testing.T) {
	a, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.False(t, a.Allowed("pycurl", "7.45.0"))
}

func TestAllowedRejectsMalformedVersion(t *testing.T) {
	a, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.False(t, a.Allowed("requests", "not-a-version"))
}

func TestCheckRecordsAuditEntries(t *testing.T) {
	sink := NewInMemoryAuditSink(10)
	a, err := Parse([]byte(sampleYAML), WithAuditSink(sink))
	require.NoError(t, err)

	a.Allowed("requests", "2.31.0")
	a.Allowed("left-pad", "1.0.0")

	entries := sink.Entries()
	require.Len(t, entries, 2)
	require.True(t, entries[0].Allowed)
	require.False(t, entries[1].Allowed)
}

func TestBlockAddsPackageAtRuntime(t *testing.T) {
	a, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.True(t, a.Allowed("requests", "2.31.0"))
	a.Block("requests")
	require.False(t, a.Allowed("requests", "2.31.0"))
}

func TestParseRejectsInvalidConstraint(t *testing.T) {
	_, err := Parse([]byte(`allowed:
  - name: broken
    constraint: "not a constraint !!"
`))
	require.Error(t, err)
}
