package language

import (
	"strings"

	xlanguage "golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// wordForms maps English language names users type in config files.
var wordForms = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"russian":    "ru",
	"arabic":     "ar",
	"hindi":      "hi",
	"dutch":      "nl",
	"polish":     "pl",
	"swedish":    "sv",
	"danish":     "da",
	"norwegian":  "no",
	"finnish":    "fi",
}

// ToISO2 converts a language code, BCP 47 tag or English name to the ISO
// 639-1 code transcription backends expect. It returns "" for empty input,
// "auto", and anything unrecognized.
func ToISO2(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" || value == "auto" {
		return ""
	}
	if code, ok := wordForms[value]; ok {
		return code
	}
	tag, err := xlanguage.Parse(strings.ReplaceAll(value, "_", "-"))
	if err != nil {
		return ""
	}
	base, confidence := tag.Base()
	if confidence == xlanguage.No {
		return ""
	}
	code := base.String()
	if len(code) != 2 {
		return ""
	}
	return code
}

// Valid reports whether value is empty, "auto", or a recognized language.
func Valid(value string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	return trimmed == "" || trimmed == "auto" || ToISO2(trimmed) != ""
}

// DisplayName returns the English name of a language, "Auto" for automatic
// detection, or the uppercased input when unrecognized.
func DisplayName(value string) string {
	code := ToISO2(value)
	if code == "" {
		if strings.TrimSpace(value) == "" || strings.EqualFold(strings.TrimSpace(value), "auto") {
			return "Auto"
		}
		return strings.ToUpper(strings.TrimSpace(value))
	}
	return display.English.Languages().Name(xlanguage.Make(code))
}
