// Package category infers a spending category from free-text payment
// references.
package category

import (
	"regexp"
	"strings"
)

// Other is returned when no keyword matches.
const Other = "Other"

var whitespaceRegex = regexp.MustCompile(`\s+`)

type rule struct {
	name     string
	keywords []string
}

// Rules are checked in order; the first rule with a keyword contained in
// the text wins.
var defaultRules = []rule{
	{"Food", []string{
		"restaurant", "cafe", "food", "grocery", "supermarket", "naivas", "carrefour",
		"quickmart", "dinner", "lunch", "breakfast", "eat", "meal", "coffee", "java",
		"kfc", "mcdonalds", "jumia food", "uber eats", "bolt food", "glovo",
	}},
	{"Transport", []string{
		"uber", "bolt", "little", "taxi", "matatu", "bus", "fare", "transport", "fuel",
		"petrol", "diesel", "car", "vehicle", "parking", "ride", "travel",
	}},
	{"Housing", []string{
		"rent", "house", "apartment", "water", "electricity", "power", "kplc", "bill",
		"utility", "gas", "housing", "mortgage", "accommodation", "airbnb", "hotel",
		"internet", "wifi", "safaricom home", "zuku",
	}},
	{"Utilities", []string{
		"bill", "utility", "internet", "wifi", "airtime", "safaricom", "telkom", "airtel",
		"phone", "data", "subscription", "dstv", "netflix", "spotify", "showmax", "bundle",
	}},
	{"Entertainment", []string{
		"cinema", "movie", "ticket", "concert", "event", "game", "betting", "sportpesa",
		"betika", "entertainment", "party", "club", "bar", "alcohol", "beer", "fun",
		"leisure", "recreation",
	}},
	{"Health", []string{
		"hospital", "doctor", "medical", "health", "pharmacy", "medicine", "clinic",
		"dental", "healthcare", "insurance", "nhif",
	}},
	{"Education", []string{
		"school", "college", "university", "tuition", "fee", "education", "course",
		"class", "training", "book", "learning", "student",
	}},
	{"Shopping", []string{
		"shop", "mall", "store", "purchase", "buy", "jumia", "amazon", "clothes",
		"shopping", "item", "product", "electronic", "gadget", "furniture",
	}},
	{"Travel", []string{
		"flight", "air", "train", "sgr", "vacation", "holiday", "tour", "travel",
		"trip", "hotel", "accommodation", "booking", "ticket", "transport", "lodge",
	}},
}

// Keyword is a substring-matching categorizer.
type Keyword struct {
	rules []rule
}

// NewKeyword returns the categorizer with the built-in keyword table.
func NewKeyword() *Keyword {
	return &Keyword{rules: defaultRules}
}

// Categorize returns the first matching category for text, or Other.
func (k *Keyword) Categorize(text string) string {
	text = sanitize(text)
	if text == "" {
		return Other
	}
	for _, r := range k.rules {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return r.name
			}
		}
	}
	return Other
}

// Names lists every category the table can produce, Other last.
func (k *Keyword) Names() []string {
	out := make([]string, 0, len(k.rules)+1)
	for _, r := range k.rules {
		out = append(out, r.name)
	}
	return append(out, Other)
}

func sanitize(value string) string {
	value = whitespaceRegex.ReplaceAllString(strings.ToLower(value), " ")
	return strings.TrimSpace(value)
}
