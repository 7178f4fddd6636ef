// Package classes holds the canonical region class taxonomy and the
// per-class enable/threshold/color settings consulted by the normalizer.
package classes

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Canonical class names.
const (
	Text      = "text"
	FonText   = "fon_text"
	Bubble    = "bubble"
	Watermark = "watermark"
	Logo      = "logo"
)

// All lists the canonical classes in display order.
var All = []string{Text, FonText, Bubble, Watermark, Logo}

// aliases maps normalized raw labels onto canonical classes.
var aliases = map[string]string{
	"text":          Text,
	"txt":           Text,
	"caption":       Text,
	"dialog":        Text,
	"dialogue":      Text,
	"fon":           FonText,
	"fontext":       FonText,
	"fon_text":      FonText,
	"sfx":           FonText,
	"onomatopoeia":  FonText,
	"sound_effect":  FonText,
	"bubble":        Bubble,
	"balloon":       Bubble,
	"speech_bubble": Bubble,
	"watermark":     Watermark,
	"wm":            Watermark,
	"logo":          Logo,
}

// keywords is the ordered substring fallback used when no alias matches.
var keywords = []struct {
	substr string
	class  string
}{
	{"fon", FonText},
	{"sfx", FonText},
	{"sound", FonText},
	{"bubble", Bubble},
	{"balloon", Bubble},
	{"water", Watermark},
	{"logo", Logo},
}

// normalizeLabel applies NFKC, Unicode case folding and maps spaces and
// dashes to underscores so "Sound-Effect" and "ｓｏｕｎｄ effect" agree.
func normalizeLabel(label string) string {
	s := cases.Fold().String(norm.NFKC.String(strings.TrimSpace(label)))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '\t':
			return '_'
		}
		return r
	}, s)
}

// Lookup maps a label to a canonical class through the alias table and
// keyword fallback. ok is false when nothing matched.
func Lookup(label string) (class string, ok bool) {
	key := normalizeLabel(label)
	if c, ok := aliases[key]; ok {
		return c, true
	}
	for _, kw := range keywords {
		if strings.Contains(key, kw.substr) {
			return kw.class, true
		}
	}
	return "", false
}

// Canonical maps a raw detector or segmenter label to a canonical class.
// Unknown labels fall back to Text.
func Canonical(label string) string {
	if c, ok := Lookup(label); ok {
		return c
	}
	return Text
}
