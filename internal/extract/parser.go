package extract

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/genusglobalinc/leadbot/pkg/models"
)

var (
	emailRegex = regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Z|a-z]{2,}\b`)

	invalidEmailPatterns = []string{
		"example.com",
		"@example",
		".png",
		".jpg",
		".gif",
		"sampleemail",
		"youremail",
		"noreply",
	}

	phoneRegex = regexp.MustCompile(`\+?\d{1,3}[-.\s]?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,9}`)

	websiteRegex = regexp.MustCompile(`https?://[a-zA-Z0-9.\-]+\.[A-Za-z]{2,}(?:/[^\s"<>]*)?`)

	nonDigitRegexp = regexp.MustCompile(`\D`)
)

const phoneMinDigits = 7

// parsed holds everything pulled out of one rendered document.
type parsed struct {
	Title          string
	Text           string
	Emails         []string
	Phones         []string
	Websites       []string
	HasContactForm bool
}

// parseDocument walks the rendered HTML and collects the title, visible text,
// contact candidates, and whether the page carries a contact form. Script and
// style bodies are ignored.
func parseDocument(raw string) (parsed, error) {
	var out parsed

	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return out, err
	}

	var textBuilder strings.Builder
	var formFields int

	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if n.FirstChild != nil && out.Title == "" {
					out.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "a":
				for _, a := range n.Attr {
					if a.Key == "href" && strings.HasPrefix(a.Val, "mailto:") {
						addr := strings.TrimPrefix(a.Val, "mailto:")
						if i := strings.IndexByte(addr, '?'); i >= 0 {
							addr = addr[:i]
						}
						out.Emails = append(out.Emails, addr)
					}
				}
			case "input", "select", "textarea":
				// Mirrors the dynamic field scan of the original tool:
				// a page with enough named inputs is treated as carrying
				// a contact form.
				for _, a := range n.Attr {
					if a.Key == "name" || a.Key == "id" || a.Key == "placeholder" {
						formFields++
						break
					}
				}
			}
		}

		if n.Type == html.TextNode {
			parent := n.Parent
			if parent != nil && parent.Data != "script" && parent.Data != "style" {
				text := strings.TrimSpace(n.Data)
				if len(text) > 0 {
					textBuilder.WriteString(text + " ")
				}
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}

	visit(doc)

	out.Text = strings.TrimSpace(textBuilder.String())
	out.HasContactForm = formFields >= 2

	out.Emails = filterEmails(append(out.Emails, emailRegex.FindAllString(raw, -1)...))
	out.Phones = filterPhones(phoneRegex.FindAllString(out.Text, -1))
	out.Websites = dedupe(websiteRegex.FindAllString(out.Text, -1))

	return out, nil
}

func filterEmails(candidates []string) []string {
	var out []string
	for _, e := range candidates {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		bad := false
		for _, p := range invalidEmailPatterns {
			if strings.Contains(e, p) {
				bad = true
				break
			}
		}
		if !bad {
			out = append(out, e)
		}
	}
	return dedupe(out)
}

func filterPhones(candidates []string) []string {
	var out []string
	for _, p := range candidates {
		digits := nonDigitRegexp.ReplaceAllString(p, "")
		if len(digits) < phoneMinDigits {
			continue
		}
		out = append(out, strings.TrimSpace(p))
	}
	return dedupe(out)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// outcomeFor grades an extraction: full text plus at least one contact signal
// is a success, anything readable is partial.
func outcomeFor(p parsed) models.ExtractionOutcome {
	if p.Text == "" && p.Title == "" {
		return models.ExtractionPartial
	}
	if len(p.Emails) == 0 && len(p.Phones) == 0 && !p.HasContactForm {
		return models.ExtractionPartial
	}
	return models.ExtractionSuccess
}
