// Package targets loads batch input. The expected CSV carries a header row;
// a "url" column is required and every other column becomes seed metadata on
// the target.
package targets

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/genusglobalinc/leadbot/pkg/models"
)

// LoadCSV reads targets from a CSV file.
func LoadCSV(path string) ([]models.Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "targets: open %s", path)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV parses targets from any reader.
func ReadCSV(r io.Reader) ([]models.Target, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "targets: read header")
	}

	urlCol, nameCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "url", "website", "link":
			if urlCol < 0 {
				urlCol = i
			}
		case "name", "company", "business":
			if nameCol < 0 {
				nameCol = i
			}
		}
	}
	if urlCol < 0 {
		return nil, eris.New("targets: no url column in header")
	}

	var out []models.Target
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "targets: read row")
		}

		url := strings.TrimSpace(rec[urlCol])
		if url == "" {
			continue
		}
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			url = "https://" + url
		}

		t := models.Target{URL: url, Seed: make(map[string]string)}
		if nameCol >= 0 && nameCol < len(rec) {
			t.Name = strings.TrimSpace(rec[nameCol])
		}
		for i, v := range rec {
			if i == urlCol || i >= len(header) {
				continue
			}
			v = strings.TrimSpace(v)
			if v != "" {
				t.Seed[strings.ToLower(strings.TrimSpace(header[i]))] = v
			}
		}
		out = append(out, t)
	}
	return out, nil
}
