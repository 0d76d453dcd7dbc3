package extract

import (
	"fmt"
	"strings"

	"github.com/sells-group/property-import/internal/model"
)

// maxPromptRunes caps the document text sent to a provider.
const maxPromptRunes = 120_000

const systemPrompt = `You extract real estate property records from documents.

Return ONLY a JSON array. Each element describes one distinct property found in the document:
{"fields": {...}, "field_confidences": {...}}

Use these field keys when the information is present:
address, city, state, zip_code, county, parcel_number, owner_name, property_type,
year_built, square_feet, lot_size_acres, bedrooms, bathrooms, assessed_value,
market_value, sale_price, sale_date, legal_description, zoning.

Rules:
- address is the street address only (number, street, unit).
- Numbers are JSON numbers without currency symbols or thousands separators.
- Dates use YYYY-MM-DD.
- Omit fields that are not stated. Never guess.
- field_confidences maps each returned field key to an integer 0-100.
- If the document describes no property, return [].`

var documentHints = map[model.DocumentType]string{
	model.DocumentAppraisal:  "This is an appraisal report. Prefer the subject property over comparables.",
	model.DocumentInspection: "This is a home inspection report.",
	model.DocumentDeed:       "This is a recorded deed. The grantee is the current owner.",
	model.DocumentTaxRecord:  "This is a property tax record. Values are assessed values.",
	model.DocumentListing:    "This is a listing sheet. The list price is not a sale price.",
}

// Prompt is a provider-neutral extraction request.
type Prompt struct {
	System string
	User   string
}

func buildPrompt(text string, docType model.DocumentType, fileName string) Prompt {
	var sb strings.Builder
	if hint, ok := documentHints[docType]; ok {
		sb.WriteString(hint)
		sb.WriteString("\n\n")
	}
	if fileName != "" {
		fmt.Fprintf(&sb, "File: %s\n\n", fileName)
	}
	sb.WriteString("<document>\n")
	sb.WriteString(truncateRunes(text, maxPromptRunes))
	sb.WriteString("\n</document>")
	return Prompt{System: systemPrompt, User: sb.String()}
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
