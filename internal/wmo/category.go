package wmo

import "strings"

// CategoryForAwipsID returns a product's category, which spec.md §4.1's
// edge-case policy defines as the first three characters of the AWIPS ID
// ("Unknown AWIPS IDs pass through; product_category is the first three
// characters of the AWIPS ID by default.") — e.g. "TORTOP" -> "TOR",
// "FLWBOU" -> "FLW". Falls back to "other" for an AWIPS ID shorter than
// three characters.
func CategoryForAwipsID(awipsID string) string {
	if len(awipsID) < 3 {
		return "other"
	}
	return strings.ToUpper(awipsID[:3])
}
