package client

import (
	"fmt"
	"math"
	"strings"

	"censord/internal/domain"
)

// Category tags form a closed set, validated at construction time. The wire
// schema is a free-form map, but the orchestrator only ever emits these keys.
const (
	CategoryCovered = "covered"
	CategoryExposed = "exposed"
	CategoryFace    = "face"

	// obfuscationKey is the pseudo-category appended when the global
	// obfuscation toggle is on. Not tied to any body-region preference.
	obfuscationKey   = "_global"
	obfuscationLevel = 10
)

// Preference is one category's censoring choice. Intensity is fractional;
// the wire carries its nearest-integer rounding.
type Preference struct {
	Method            domain.CensorMethod
	Intensity         float64
	StickerCategories []string
	// PreferBox asks the caption renderer for boxed text. Only meaningful
	// with MethodCaption.
	PreferBox bool
}

// Preferences is the closed set of user censoring choices a payload can be
// built from. Nil entries are simply omitted from the options map.
type Preferences struct {
	Covered   *Preference
	Exposed   *Preference
	Face      *Preference
	Obfuscate bool
}

var validMethods = map[domain.CensorMethod]struct{}{
	domain.MethodPixelate: {},
	domain.MethodBlur:     {},
	domain.MethodBlackbox: {},
	domain.MethodSticker:  {},
	domain.MethodCaption:  {},
}

func (p *Preference) validate(category string) error {
	if p == nil {
		return nil
	}
	if _, ok := validMethods[p.Method]; !ok {
		return fmt.Errorf("category %s: unknown method %q", category, p.Method)
	}
	if p.Intensity < 0 || p.Intensity > 10 {
		return fmt.Errorf("category %s: intensity %v out of range", category, p.Intensity)
	}
	return nil
}

// BuildOptions deterministically maps preferences to the wire options map.
//
// The method field doubles as a carrier for data the schema has no room for:
// selected sticker sub-categories are packed as "sticker:<cat1>;<cat2>", and
// caption hints ride along query-string style ("caption?box=true").
func BuildOptions(prefs Preferences) (map[string]domain.CensorOption, error) {
	entries := []struct {
		category string
		pref     *Preference
	}{
		{CategoryCovered, prefs.Covered},
		{CategoryExposed, prefs.Exposed},
		{CategoryFace, prefs.Face},
	}

	options := make(map[string]domain.CensorOption)
	for _, e := range entries {
		if e.pref == nil {
			continue
		}
		if err := e.pref.validate(e.category); err != nil {
			return nil, err
		}
		options[e.category] = domain.CensorOption{
			Method: encodeMethod(e.pref),
			Level:  int(math.Round(e.pref.Intensity)),
		}
	}

	if prefs.Obfuscate {
		options[obfuscationKey] = domain.CensorOption{
			Method: string(domain.MethodObfuscate),
			Level:  obfuscationLevel,
		}
	}
	return options, nil
}

func encodeMethod(p *Preference) string {
	switch p.Method {
	case domain.MethodSticker:
		if len(p.StickerCategories) == 0 {
			return string(domain.MethodSticker)
		}
		return string(domain.MethodSticker) + ":" + strings.Join(p.StickerCategories, ";")
	case domain.MethodCaption:
		if p.PreferBox {
			return string(domain.MethodCaption) + "?box=true"
		}
		return string(domain.MethodCaption)
	default:
		return string(p.Method)
	}
}
