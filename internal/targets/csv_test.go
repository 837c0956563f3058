package targets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	in := `name,url,city
Acme Plumbing,https://acmeplumbing.gr,Athens
Beta Movers,betamovers.gr,Thessaloniki

Gamma Cafe,,Patras
`
	ts, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, ts, 2, "rows without a url are skipped")

	assert.Equal(t, "https://acmeplumbing.gr", ts[0].URL)
	assert.Equal(t, "Acme Plumbing", ts[0].Name)
	assert.Equal(t, "Athens", ts[0].Seed["city"])

	assert.Equal(t, "https://betamovers.gr", ts[1].URL, "bare domains get an https scheme")
	assert.Equal(t, "Beta Movers", ts[1].Name)
}

func TestReadCSVAltHeaders(t *testing.T) {
	in := "company,website\nDelta Ltd,https://delta.example\n"
	ts, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, "Delta Ltd", ts[0].Name)
	assert.Equal(t, "https://delta.example", ts[0].URL)
}

func TestReadCSVRejectsMissingURLColumn(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("name,city\nAcme,Athens\n"))
	require.Error(t, err)
}
