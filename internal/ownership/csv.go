package ownership

import (
	"encoding/csv"
	"io"
	"strings"
	"time"

	"github.com/landregistry/inspire-reconciler/internal/errors"
	"github.com/landregistry/inspire-reconciler/internal/store"
)

// Batch is the result of streaming one CCOD/OCOD file: additions to
// upsert and title numbers to delete.
type Batch struct {
	Additions []store.Ownership
	Deletions []string
}

// expected CSV header columns (title order matches the upstream CCOD/OCOD
// format): change indicator, title number, tenure, address, postcode, then
// four repeating proprietor blocks (name, company_no, category, three
// address lines each), then date added and country-of-incorporation
// indicator.
const (
	colChangeIndicator = 0
	colTitleNo         = 1
	colTenure          = 2
	colPropertyAddress = 3
	colPostcode        = 4
	colDateAdded       = 29
	colCountryFlag     = 30

	proprietorBlockStart = 5
	proprietorBlockSize  = 6 // name, company_no, category, address line 1-3
	proprietorCount      = 4
)

// StreamCSV reads a change-only or full-snapshot CSV, bucketing rows by
// change indicator 'A'/'D' (§4.1 step 1). The trailing "Row Count:"
// sentinel row and any row missing a change indicator are dropped rather
// than erroring, since both are expected framing artefacts of the feed.
func StreamCSV(r io.Reader) (Batch, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // tolerate the full-snapshot format, which omits the indicator column

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return Batch{}, nil
		}
		return Batch{}, errors.DataRowError(err, "reading CSV header")
	}
	hasIndicator := len(header) > 0 && strings.EqualFold(strings.TrimSpace(header[0]), "Change Indicator")

	var batch Batch
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return batch, errors.DataRowError(err, "reading CSV row")
		}

		if len(record) > 0 && strings.HasPrefix(strings.TrimSpace(record[0]), "Row Count:") {
			continue
		}

		if !hasIndicator {
			// Full snapshot: every row is an implicit addition.
			row, ok := parseRow(record, -1)
			if ok {
				batch.Additions = append(batch.Additions, row)
			}
			continue
		}

		if len(record) <= colChangeIndicator {
			continue
		}
		indicator := strings.ToUpper(strings.TrimSpace(record[colChangeIndicator]))
		switch indicator {
		case "A":
			row, ok := parseRow(record, colChangeIndicator)
			if ok {
				batch.Additions = append(batch.Additions, row)
			}
		case "D":
			if len(record) > colTitleNo {
				batch.Deletions = append(batch.Deletions, strings.TrimSpace(record[colTitleNo]))
			}
		default:
			// missing/unrecognised indicator: drop the row per §4.1 step 1
		}
	}
	return batch, nil
}

// parseRow parses one CSV record into an Ownership row. indicatorOffset is
// 0 when the record carries a leading change-indicator column, or -1 for
// the indicator-less full-snapshot format; field offsets are adjusted
// accordingly.
func parseRow(record []string, indicatorOffset int) (store.Ownership, bool) {
	shift := 0
	if indicatorOffset < 0 {
		shift = -1 // full snapshot has no leading indicator column
	}
	get := func(idx int) string {
		idx += shift
		if idx < 0 || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	titleNo := get(colTitleNo)
	if titleNo == "" {
		return store.Ownership{}, false
	}

	row := store.Ownership{
		TitleNo:         titleNo,
		Tenure:          get(colTenure),
		PropertyAddress: get(colPropertyAddress),
		Postcode:        get(colPostcode),
	}

	for i := 0; i < proprietorCount; i++ {
		base := proprietorBlockStart + i*proprietorBlockSize
		row.Proprietors[i] = store.Proprietor{
			Name:         get(base),
			CompanyNo:    get(base + 1),
			Category:     get(base + 2),
			AddressLine1: get(base + 3),
			AddressLine2: get(base + 4),
			AddressLine3: get(base + 5),
		}
	}

	if d := get(colDateAdded); d != "" {
		if parsed, err := time.Parse("02-01-2006", d); err == nil {
			row.DateProprietorAdded = parsed
		}
	}
	row.UKBased = strings.EqualFold(get(colCountryFlag), "UK") || get(colCountryFlag) == ""

	return row, true
}
