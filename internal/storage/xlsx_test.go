package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/genusglobalinc/leadbot/pkg/models"
)

func sampleRecords() []models.LeadRecord {
	return []models.LeadRecord{
		{
			Key:    "https://acme.example",
			Target: models.Target{URL: "https://acme.example", Name: "Acme"},
			State:  models.StateEnriched,
			Extraction: &models.RawExtraction{
				Title:  "Acme Inc",
				Emails: []string{"sales@acme.example", "info@acme.example"},
				Phones: []string{"+30 210 555 0100"},
			},
			Enrichment: &models.EnrichmentResult{
				Label:       models.LabelQualified,
				CompanyName: "Acme Inc",
				Email:       "sales@acme.example",
				Industry:    "manufacturing",
				Summary:     "Industrial pump maker.",
				Confidence:  "high",
				Outcome:     models.EnrichmentOK,
			},
		},
		{
			Key:     "https://down.example",
			Target:  models.Target{URL: "https://down.example"},
			State:   models.StateFailed,
			Reason:  models.ReasonPageTimeout,
			Retries: 2,
		},
	}
}

func TestExportXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leads.xlsx")
	require.NoError(t, ExportXLSX(path, sampleRecords()))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Leads")
	require.NoError(t, err)
	require.Len(t, rows, 3, "header plus two records")

	assert.Equal(t, "URL", rows[0][0])
	assert.Equal(t, "https://acme.example", rows[1][0])
	assert.Equal(t, "enriched", rows[1][2])
	assert.Equal(t, "sales@acme.example, info@acme.example", rows[1][6])
	assert.Equal(t, models.LabelQualified, rows[1][8])

	assert.Equal(t, "https://down.example", rows[2][0])
	assert.Equal(t, "failed", rows[2][2])
	assert.Equal(t, "page-timeout", rows[2][3])
	assert.Equal(t, "2", rows[2][4])
}

func TestFlattenUnflattenRoundTrip(t *testing.T) {
	orig := sampleRecords()[0]
	rec := unflatten(flatten(orig))

	assert.Equal(t, orig.Key, rec.Key)
	assert.Equal(t, orig.State, rec.State)
	require.NotNil(t, rec.Extraction)
	assert.Equal(t, orig.Extraction.Emails, rec.Extraction.Emails)
	require.NotNil(t, rec.Enrichment)
	assert.Equal(t, orig.Enrichment.Label, rec.Enrichment.Label)
	assert.Equal(t, orig.Enrichment.Confidence, rec.Enrichment.Confidence)
}
