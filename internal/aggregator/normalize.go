package aggregator

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Longest first; "underground station" must win over "station".
var stationSuffixes = []string{
	"underground station",
	"overground station",
	"elizabeth line station",
	"rail station",
	"dlr station",
	"tram stop",
	"station",
}

var (
	bracketed    = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]`)
	postcode     = regexp.MustCompile(`\b[a-z]{1,2}[0-9][0-9a-z]?\b`)
	displayTrail = regexp.MustCompile(`(?i)\s+(underground|overground|elizabeth line|rail|dlr)?\s*station$`)
)

func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Normalize produces the comparison key for a station name: lowercase, no
// diacritics, no punctuation or bracketed qualifiers, no station suffix.
func Normalize(name string) string {
	s := stripDiacritics(strings.ToLower(name))
	s = bracketed.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "&", " and ")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\'' || r == '’' || r == '.':
			// "king's" -> "kings", "st." -> "st"
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	s = strings.Join(strings.Fields(b.String()), " ")

	for trimmed := true; trimmed; {
		trimmed = false
		for _, suf := range stationSuffixes {
			if s != suf && strings.HasSuffix(s, " "+suf) {
				s = strings.TrimSpace(strings.TrimSuffix(s, suf))
				trimmed = true
				break
			}
		}
	}
	return s
}

// DisplayName trims the station suffix but keeps the original casing.
func DisplayName(name string) string {
	return strings.TrimSpace(displayTrail.ReplaceAllString(strings.TrimSpace(name), ""))
}

// stripPostcode drops postcode districts such as "n1" or "sw1a" from a
// normalized name.
func stripPostcode(normalized string) string {
	return strings.Join(strings.Fields(postcode.ReplaceAllString(normalized, " ")), " ")
}

// Aliases maps normalized alternative names to normalized canonical names.
type Aliases map[string]string

var defaultAliases = map[string]string{
	"kings cross":                 "kings cross st pancras",
	"st pancras":                  "kings cross st pancras",
	"st pancras international":    "kings cross st pancras",
	"heathrow terminals 1 2 3":    "heathrow terminals 2 and 3",
	"heathrow terminal 2 and 3":   "heathrow terminals 2 and 3",
	"shepherds bush market":       "shepherds bush",
	"edgware road bakerloo":       "edgware road",
	"hammersmith dist and picc":   "hammersmith",
	"paddington hammersmith":      "paddington",
	"bank and monument":           "bank",
	"tower gateway":               "tower hill",
	"queens road peckham":         "queens road",
	"walthamstow queens road":     "walthamstow central",
	"london bridge underground":   "london bridge",
	"waterloo east":               "waterloo",
	"canary wharf elizabeth line": "canary wharf",
}

// NewAliases merges the built-in table with extra entries. Both sides are
// normalized; extra entries override built-ins.
func NewAliases(extra map[string]string) Aliases {
	a := make(Aliases, len(defaultAliases)+len(extra))
	for k, v := range defaultAliases {
		a[Normalize(k)] = Normalize(v)
	}
	for k, v := range extra {
		a[Normalize(k)] = Normalize(v)
	}
	return a
}

// Canonical resolves an alias, returning the input when it has none.
func (a Aliases) Canonical(normalized string) string {
	if v, ok := a[normalized]; ok {
		return v
	}
	return normalized
}

// BestMatchingStationName picks the entry of stops that names the same
// station as name. It tries an exact normalized match, then containment in
// either direction, then postcode stripping and the alias table, and finally
// falls back to the last stop. Empty stops yield "".
func BestMatchingStationName(stops []string, name string, aliases Aliases) string {
	if len(stops) == 0 {
		return ""
	}
	if i := stopIndex(stops, name, aliases); i >= 0 {
		return stops[i]
	}
	return stops[len(stops)-1]
}

// stopIndex returns the index of the stop matching name, or -1.
func stopIndex(stops []string, name string, aliases Aliases) int {
	target := Normalize(name)
	if target == "" {
		return -1
	}
	keys := make([]string, len(stops))
	for i, s := range stops {
		keys[i] = Normalize(s)
	}
	for i, k := range keys {
		if k == target {
			return i
		}
	}
	for i, k := range keys {
		if k != "" && (strings.Contains(k, target) || strings.Contains(target, k)) {
			return i
		}
	}

	target = aliases.Canonical(stripPostcode(target))
	for i, k := range keys {
		if aliases.Canonical(stripPostcode(k)) == target {
			return i
		}
	}
	return -1
}
