package telemetry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestNormalizeLogin_SingleObjectIsWrapped(t *testing.T) {
	raw := decode(t, `{"username":"alice","sourceIP":"10.0.0.5","timestamp":"2025-03-10T02:15:00Z","success":true}`)

	recs, err := NormalizeLogin(raw, testNow)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "alice", recs[0].Username)
	assert.Equal(t, "10.0.0.5", recs[0].SourceIP)
	assert.True(t, recs[0].Success)
	assert.Equal(t, time.Date(2025, 3, 10, 2, 15, 0, 0, time.UTC), recs[0].Timestamp)
}

func TestNormalizeLogin_AliasPriority(t *testing.T) {
	// sourceIP outranks ip, which outranks source.
	raw := decode(t, `[
		{"user":"bob","ip":"1.1.1.1","source":"2.2.2.2"},
		{"username":"carol","user":"ignored","source":"3.3.3.3","sourceIP":"4.4.4.4"},
		{"account":"dave","source_ip":"  ","client_ip":"5.5.5.5"}
	]`)

	recs, err := NormalizeLogin(raw, testNow)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, "bob", recs[0].Username)
	assert.Equal(t, "1.1.1.1", recs[0].SourceIP)
	assert.Equal(t, "carol", recs[1].Username)
	assert.Equal(t, "4.4.4.4", recs[1].SourceIP)
	// Blank values fall through to the next alias.
	assert.Equal(t, "5.5.5.5", recs[2].SourceIP)
}

func TestNormalizeLogin_FailureClassification(t *testing.T) {
	raw := decode(t, `[
		{"username":"a","ip":"1.1.1.1","success":false},
		{"username":"a","ip":"1.1.1.1","status":"failed"},
		{"username":"a","ip":"1.1.1.1","status":"FAILURE"},
		{"username":"a","ip":"1.1.1.1","status":"success"},
		{"username":"a","ip":"1.1.1.1"}
	]`)

	recs, err := NormalizeLogin(raw, testNow)
	require.NoError(t, err)
	got := make([]bool, len(recs))
	for i, r := range recs {
		got[i] = r.Success
	}
	assert.Equal(t, []bool{false, false, false, true, true}, got)
}

func TestNormalizeLogin_UnknownTimestampUsesNow(t *testing.T) {
	raw := decode(t, `[{"username":"a","ip":"1.1.1.1"},{"username":"a","ip":"1.1.1.1","timestamp":"not a time"}]`)

	recs, err := NormalizeLogin(raw, testNow)
	require.NoError(t, err)
	assert.Equal(t, testNow, recs[0].Timestamp)
	assert.Equal(t, testNow, recs[1].Timestamp)
}

func TestNormalizeLogin_EpochTimestamps(t *testing.T) {
	raw := decode(t, `[{"username":"a","ip":"1.1.1.1","timestamp":1741572000},{"username":"a","ip":"1.1.1.1","timestamp":1741572000000}]`)

	recs, err := NormalizeLogin(raw, testNow)
	require.NoError(t, err)
	want := time.Unix(1741572000, 0).UTC()
	assert.True(t, recs[0].Timestamp.Equal(want))
	assert.True(t, recs[1].Timestamp.Equal(want))
}

func TestNormalizeLogin_ZonelessTimestampsAreFlagged(t *testing.T) {
	raw := decode(t, `[
		{"username":"a","ip":"1.1.1.1","timestamp":"2025-01-15 03:00:00"},
		{"username":"a","ip":"1.1.1.1","timestamp":"2025-01-15T03:00:00"},
		{"username":"a","ip":"1.1.1.1","timestamp":"2025-01-15"},
		{"username":"a","ip":"1.1.1.1","timestamp":"2025-01-15T03:00:00-05:00"},
		{"username":"a","ip":"1.1.1.1","timestamp":1741572000},
		{"username":"a","ip":"1.1.1.1"}
	]`)

	recs, err := NormalizeLogin(raw, testNow)
	require.NoError(t, err)
	got := make([]bool, len(recs))
	for i, r := range recs {
		got[i] = r.Zoneless
	}
	assert.Equal(t, []bool{true, true, true, false, false, false}, got)
	assert.Equal(t, 3, recs[0].Timestamp.Hour(), "wall clock is kept")
}

func TestNormalizeLogin_MissingFieldsNameFieldAndIndex(t *testing.T) {
	tests := []struct {
		name  string
		input string
		index int
		field string
	}{
		{"missing address", `[{"username":"a","ip":"1.1.1.1"},{"username":"b"}]`, 1, "sourceIP"},
		{"missing username", `[{"ip":"1.1.1.1"}]`, 0, "username"},
		{"non-object element", `[{"username":"a","ip":"1.1.1.1"}, 42]`, 1, "<record>"},
		{"empty input", `[]`, -1, "<input>"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NormalizeLogin(decode(t, tc.input), testNow)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "want ValidationError, got %v", err)
			assert.Equal(t, DomainLogin, verr.Domain)
			assert.Equal(t, tc.index, verr.Index)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestNormalizeFirewall_DestinationOrPort(t *testing.T) {
	raw := decode(t, `[
		{"src_ip":"9.9.9.9","dst_port":"22","proto":"tcp","action":"deny"},
		{"sourceIP":"9.9.9.9","destinationIP":"10.0.0.1","blocked":true},
		{"source":"8.8.8.8","destination_port":443,"action":"allow","bytes":1200}
	]`)

	recs, err := NormalizeFirewall(raw, testNow)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, 22, recs[0].DestinationPort)
	assert.Equal(t, UnknownAddress, recs[0].DestinationIP)
	assert.True(t, recs[0].Blocked)
	assert.Equal(t, "10.0.0.1", recs[1].DestinationIP)
	assert.True(t, recs[1].Blocked)
	assert.False(t, recs[2].Blocked)
	assert.Equal(t, int64(1200), recs[2].Bytes)
}

func TestNormalizeFirewall_MissingDestination(t *testing.T) {
	_, err := NormalizeFirewall(decode(t, `{"sourceIP":"1.1.1.1","protocol":"tcp"}`), testNow)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, 0, verr.Index)
	assert.Equal(t, "destinationIP|destinationPort", verr.Field)
}

func TestNormalizePatch_MergesMissingAndCVEList(t *testing.T) {
	raw := decode(t, `{
		"hostname":"web-01",
		"os":"Ubuntu 18.04",
		"lastPatched":"2025-01-01",
		"missingPatches":[{"patchId":"KB1","cveId":"CVE-2024-0001","cvssScore":9.8},{"patchId":"KB2"}],
		"cves":["CVE-2024-0002",{"id":"CVE-2024-0003","score":"5.4"}],
		"eol":true
	}`)

	recs, err := NormalizePatch(raw)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	r := recs[0]

	assert.Equal(t, "web-01", r.Hostname)
	require.NotNil(t, r.LastPatched)
	assert.True(t, r.EndOfLife)
	require.Len(t, r.MissingPatches, 4)
	assert.Equal(t, MissingPatch{PatchID: "KB1", CVEID: "CVE-2024-0001", Score: 9.8, HasScore: true}, r.MissingPatches[0])
	assert.False(t, r.MissingPatches[1].HasScore)
	assert.Equal(t, "CVE-2024-0002", r.MissingPatches[2].CVEID)
	assert.Equal(t, MissingPatch{CVEID: "CVE-2024-0003", Score: 5.4, HasScore: true}, r.MissingPatches[3])
}

func TestNormalizePatch_EmptyListSatisfiesContract(t *testing.T) {
	recs, err := NormalizePatch(decode(t, `{"hostname":"db-01","missing_patches":[]}`))
	require.NoError(t, err)
	assert.Empty(t, recs[0].MissingPatches)
	assert.Nil(t, recs[0].LastPatched)
}

func TestNormalizePatch_MissingLists(t *testing.T) {
	_, err := NormalizePatch(decode(t, `[{"hostname":"a","cves":[]},{"hostname":"b","os":"Windows"}]`))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, 1, verr.Index)
	assert.Equal(t, "missingPatches|cves", verr.Field)
}

func TestNormalize_Dispatch(t *testing.T) {
	b, err := Normalize(decode(t, `{"username":"a","ip":"1.1.1.1"}`), DomainLogin, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Len())
	require.Len(t, b.Events(), 1)
	assert.Equal(t, "success", b.Events()[0]["outcome"])

	_, err = Normalize(nil, Domain("dns"), testNow)
	assert.Error(t, err)
}

func TestParseDomain(t *testing.T) {
	d, err := ParseDomain(" Firewall ")
	require.NoError(t, err)
	assert.Equal(t, DomainFirewall, d)

	_, err = ParseDomain("all")
	assert.Error(t, err)
}
