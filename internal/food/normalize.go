package food

import "strings"

var quoteStripper = strings.NewReplacer(
	`"`, "", "'", "", "`", "",
	"«", "", "»", "", "„", "", "“", "", "”", "", "‘", "", "’", "",
)

// NormalizeName lowercases, trims, strips quote characters and collapses
// inner whitespace. It is the key used for exact catalog lookups.
func NormalizeName(name string) string {
	name = quoteStripper.Replace(strings.ToLower(name))
	return strings.Join(strings.Fields(name), " ")
}
