package storage

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/genusglobalinc/leadbot/pkg/models"
)

// row is the flat, export-friendly shape of one lead record.
type row struct {
	URL         string
	Name        string
	State       string
	FailReason  string
	Retries     int
	Title       string
	Emails      string
	Phones      string
	Label       string
	CompanyName string
	ContactName string
	Email       string
	Phone       string
	Industry    string
	Summary     string
	Confidence  string
}

func flatten(r models.LeadRecord) row {
	out := row{
		URL:        r.Key,
		Name:       r.Target.Name,
		State:      string(r.State),
		FailReason: string(r.Reason),
		Retries:    r.Retries,
	}
	if r.Extraction != nil {
		out.Title = r.Extraction.Title
		out.Emails = strings.Join(r.Extraction.Emails, ", ")
		out.Phones = strings.Join(r.Extraction.Phones, ", ")
	}
	if r.Enrichment != nil {
		out.Label = r.Enrichment.Label
		out.CompanyName = r.Enrichment.CompanyName
		out.ContactName = r.Enrichment.ContactName
		out.Email = r.Enrichment.Email
		out.Phone = r.Enrichment.Phone
		out.Industry = r.Enrichment.Industry
		out.Summary = r.Enrichment.Summary
		out.Confidence = r.Enrichment.Confidence
	}
	return out
}

func unflatten(r row) models.LeadRecord {
	rec := models.LeadRecord{
		Key:     r.URL,
		Target:  models.Target{URL: r.URL, Name: r.Name},
		State:   models.State(r.State),
		Reason:  models.FailReason(r.FailReason),
		Retries: r.Retries,
	}
	if r.Title != "" || r.Emails != "" || r.Phones != "" {
		rec.Extraction = &models.RawExtraction{
			TargetURL: r.URL,
			Title:     r.Title,
			Emails:    splitList(r.Emails),
			Phones:    splitList(r.Phones),
		}
	}
	if r.Label != "" || r.CompanyName != "" {
		rec.Enrichment = &models.EnrichmentResult{
			Label:       r.Label,
			CompanyName: r.CompanyName,
			ContactName: r.ContactName,
			Email:       r.Email,
			Phone:       r.Phone,
			Industry:    r.Industry,
			Summary:     r.Summary,
			Confidence:  r.Confidence,
			Outcome:     models.EnrichmentOK,
		}
	}
	return rec
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ", ")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

var xlsxHeader = []string{
	"URL", "Name", "State", "Fail Reason", "Retries",
	"Page Title", "Emails", "Phones",
	"Label", "Company", "Contact", "Email", "Phone",
	"Industry", "Summary", "Confidence",
}

// ExportXLSX writes the snapshot to an .xlsx workbook at path.
func ExportXLSX(path string, records []models.LeadRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Leads"
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return eris.Wrap(err, "storage: create sheet")
	}
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	for col, h := range xlsxHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return eris.Wrap(err, "storage: write header")
		}
	}

	for i, r := range records {
		row := flatten(r)
		values := []any{
			row.URL, row.Name, row.State, row.FailReason, row.Retries,
			row.Title, row.Emails, row.Phones,
			row.Label, row.CompanyName, row.ContactName, row.Email, row.Phone,
			row.Industry, row.Summary, row.Confidence,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return eris.Wrapf(err, "storage: write row %d", i+2)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return eris.Wrapf(err, "storage: save %s", path)
	}
	zap.L().Info("storage: exported workbook",
		zap.String("path", path),
		zap.Int("rows", len(records)),
	)
	return nil
}
