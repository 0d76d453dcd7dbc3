package property

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// addressAbbreviations maps spelled-out street suffixes, directionals and unit
// designators onto their USPS abbreviations.
var addressAbbreviations = map[string]string{
	"street":     "st",
	"avenue":     "ave",
	"av":         "ave",
	"boulevard":  "blvd",
	"road":       "rd",
	"drive":      "dr",
	"lane":       "ln",
	"court":      "ct",
	"place":      "pl",
	"terrace":    "ter",
	"circle":     "cir",
	"highway":    "hwy",
	"parkway":    "pkwy",
	"square":     "sq",
	"trail":      "trl",
	"crossing":   "xing",
	"expressway": "expy",
	"freeway":    "fwy",
	"mount":      "mt",
	"fort":       "ft",
	"point":      "pt",
	"north":      "n",
	"south":      "s",
	"east":       "e",
	"west":       "w",
	"northeast":  "ne",
	"northwest":  "nw",
	"southeast":  "se",
	"southwest":  "sw",
	"apartment":  "apt",
	"suite":      "ste",
	"building":   "bldg",
	"floor":      "fl",
	"room":       "rm",
	"department": "dept",
}

// foldDiacritics decomposes, drops combining marks and recomposes, so
// "Ñandú" becomes "Nandu".
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return norm.NFKC.String(s)
	}
	return out
}

// NormalizeAddress reduces an address to the canonical form used for
// duplicate detection: diacritics folded, lowercased, punctuation replaced by
// spaces, whitespace collapsed and common words abbreviated. An empty result
// never matches anything.
func NormalizeAddress(address string) string {
	s := strings.ToLower(foldDiacritics(address))

	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)

	words := strings.Fields(s)
	for i, w := range words {
		if abbr, ok := addressAbbreviations[w]; ok {
			words[i] = abbr
		}
	}
	return strings.Join(words, " ")
}
