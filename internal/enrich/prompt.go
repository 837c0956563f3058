package enrich

import (
	"strings"

	"github.com/genusglobalinc/leadbot/pkg/models"
)

const systemPrompt = `You are a lead-qualification assistant for a B2B outreach team.
You receive raw text scraped from a company web page plus any contact details
detected on it. Decide whether the page represents a reachable business lead
and extract its structured fields.

Return ONLY a single JSON object with these keys:
- label (string; one of: qualified, unqualified, needs_review)
- company_name (string)
- contact_name (string)
- email (string)
- phone (string)
- industry (string)
- summary (string; one or two sentences)
- confidence (string; one of: low, medium, high)

Rules:
- qualified means the page belongs to a real business with at least one
  working contact channel (email, phone, or contact form).
- If a field cannot be determined, set it to an empty string.
- Do not invent contact details that are not present in the input.
- Do not include extra keys.`

// maxPromptText caps how much page text goes into one request. Pages are
// scraped whole; the model does not need all of it.
const maxPromptText = 6000

// buildUserPrompt renders one RawExtraction into the user message.
func buildUserPrompt(ex *models.RawExtraction) string {
	var b strings.Builder

	b.WriteString("Source URL: " + ex.TargetURL + "\n")
	if ex.Title != "" {
		b.WriteString("Page title: " + ex.Title + "\n")
	}
	if len(ex.Emails) > 0 {
		b.WriteString("Detected emails: " + strings.Join(ex.Emails, ", ") + "\n")
	}
	if len(ex.Phones) > 0 {
		b.WriteString("Detected phones: " + strings.Join(ex.Phones, ", ") + "\n")
	}
	if len(ex.Websites) > 0 {
		b.WriteString("Detected websites: " + strings.Join(ex.Websites, ", ") + "\n")
	}
	if ex.HasContactForm {
		b.WriteString("Page carries a contact form.\n")
	}

	text := ex.TextContent
	if len(text) > maxPromptText {
		text = text[:maxPromptText]
	}
	b.WriteString("\nPage text:\n" + text + "\n")

	return b.String()
}
