// Package langdetect assigns a language tag to short chat messages.
//
// Detection is deterministic and pure: script ranges are checked first
// (diacritic-bearing Latin languages can false-match keyword heuristics),
// then language-specific letters, then short stopword lists, falling back
// to English.
package langdetect

import (
	"strings"
	"unicode"
)

// Supported language tags.
const (
	LangEnglish    = "en"
	LangArabic     = "ar"
	LangChinese    = "zh"
	LangJapanese   = "ja"
	LangKorean     = "ko"
	LangHindi      = "hi"
	LangRussian    = "ru"
	LangSpanish    = "es"
	LangFrench     = "fr"
	LangGerman     = "de"
	LangPortuguese = "pt"
)

// scriptChecks are evaluated in order. Kana before Han: Japanese text mixes
// kanji with kana, so any kana wins over a Han match.
var scriptChecks = []struct {
	table *unicode.RangeTable
	tag   string
}{
	{unicode.Arabic, LangArabic},
	{unicode.Hiragana, LangJapanese},
	{unicode.Katakana, LangJapanese},
	{unicode.Hangul, LangKorean},
	{unicode.Han, LangChinese},
	{unicode.Devanagari, LangHindi},
	{unicode.Cyrillic, LangRussian},
}

// letterChecks match letters that are distinctive for one Latin-script
// language. Shared letters (plain accents like é) are deliberately absent.
var letterChecks = []struct {
	letters string
	tag     string
}{
	{"ßäöü", LangGerman},
	{"ñ¿¡", LangSpanish},
	{"ãõ", LangPortuguese},
	{"àâæèêëîïôœùûÿ", LangFrench},
}

var stopwords = []struct {
	words []string
	tag   string
}{
	{[]string{"el", "la", "los", "las", "es", "hola", "gracias", "por", "qué", "cómo"}, LangSpanish},
	{[]string{"le", "les", "est", "bonjour", "merci", "vous", "avec", "pour", "une"}, LangFrench},
	{[]string{"der", "die", "das", "und", "ist", "ich", "nicht", "danke", "hallo"}, LangGerman},
	{[]string{"o", "os", "um", "uma", "obrigado", "obrigada", "você", "não", "sim"}, LangPortuguese},
}

// Detect returns the language tag for text. Same input always yields the
// same tag.
func Detect(text string) string {
	for _, r := range text {
		for _, sc := range scriptChecks {
			if unicode.Is(sc.table, r) {
				return sc.tag
			}
		}
	}

	lower := strings.ToLower(text)
	for _, lc := range letterChecks {
		if strings.ContainsAny(lower, lc.letters) {
			return lc.tag
		}
	}

	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, sw := range stopwords {
		for _, w := range words {
			for _, cand := range sw.words {
				if w == cand {
					return sw.tag
				}
			}
		}
	}

	return LangEnglish
}
