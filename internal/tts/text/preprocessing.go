// Package text prepares LLM replies for speech synthesis. It removes markdown that
// would otherwise be read aloud and normalizes English text into speakable words.
package text

import (
	"cmp"
	"fmt"
	"maps"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// NumberBaseTen represents the base for decimal number system.
	NumberBaseTen = 10
	// NumberBaseTwenty represents the boundary for teen numbers.
	NumberBaseTwenty = 20
	// NumberBaseHundred represents the base for hundreds.
	NumberBaseHundred = 100
	// NumberBaseThousand represents the base for thousands.
	NumberBaseThousand = 1000
	// MaxNumberForWords represents the maximum number that can be converted to words.
	MaxNumberForWords = 999999
)

// Languages whose abbreviations and numbers are expanded.
const languageEnglish = "en"

// Regex patterns for text preprocessing.
const (
	urlRegexPattern         = `https?://[^\s)\]>"']*[^\s)\]>"'.,;:!?]`
	emailRegexPattern       = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	numberRegexPattern      = `\d+(?:\.\d+)?`
	groupedNumberPattern    = `\d{1,3}(?:,\d{3})+\b`
	referenceRegexPattern   = `\[\d+\]|[¹²³⁴⁵⁶⁷⁸⁹⁰]+`
	whitespaceRegexPattern  = `\s+`
	spaceBeforePunctPattern = `\s+([.,!?;:])`
	codeFenceRegexPattern   = "(?s)```.*?```"
	inlineCodeRegexPattern  = "`([^`]*)`"
	linkRegexPattern        = `\[([^\]]+)\]\([^)]*\)`
	headerRegexPattern      = `^#{1,6}\s+`
	listMarkerRegexPattern  = `^(?:[-*+•]|\d{1,3}[.)])\s+`
	quoteRegexPattern       = `^>\s?`
	emphasisRegexPattern    = `\*{1,3}|_{2,3}|~~`
	repeatedBangPattern     = `([!?])[!?]+`
	repeatedCommaPattern    = `([,;:])[,;:]+`
	longEllipsisPattern     = `\.{4,}`
)

// Placeholders are letters only so number normalization never touches them.
const (
	placeholderPrefix = "__PRESERVED"
	placeholderSuffix = "__"
	placeholderDigits = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// Punctuation and formatting constants.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

// Preprocessor converts free-form text into something a TTS model reads naturally.
type Preprocessor struct {
	urlPattern             *regexp.Regexp
	emailPattern           *regexp.Regexp
	numberPattern          *regexp.Regexp
	groupedNumber          *regexp.Regexp
	referencePattern       *regexp.Regexp
	whitespacePattern      *regexp.Regexp
	spaceBeforePunctuation *regexp.Regexp
	codeFencePattern       *regexp.Regexp
	inlineCodePattern      *regexp.Regexp
	linkPattern            *regexp.Regexp
	headerPattern          *regexp.Regexp
	listMarkerPattern      *regexp.Regexp
	quotePattern           *regexp.Regexp
	emphasisPattern        *regexp.Regexp
	repeatedBang           *regexp.Regexp
	repeatedComma          *regexp.Regexp
	longEllipsis           *regexp.Regexp
	abbreviationPattern    *regexp.Regexp
	abbreviations          map[string]string
	symbolReplacer         *strings.Replacer
	typographyReplacer     *strings.Replacer
}

// NewPreprocessor creates a new text preprocessor with compiled patterns and replacers.
func NewPreprocessor() *Preprocessor {
	abbreviations := map[string]string{
		"Mr.":   "Mister",
		"Mrs.":  "Misses",
		"Ms.":   "Miss",
		"Dr.":   "Doctor",
		"St.":   "Saint",
		"Co.":   "Company",
		"Ltd.":  "Limited",
		"Corp.": "Corporation",
		"Inc.":  "Incorporated",
		"e.g.":  "for example",
		"i.e.":  "that is",
		"etc.":  "et cetera",
		"vs.":   "versus",
	}

	return &Preprocessor{
		urlPattern:             regexp.MustCompile(urlRegexPattern),
		emailPattern:           regexp.MustCompile(emailRegexPattern),
		numberPattern:          regexp.MustCompile(numberRegexPattern),
		groupedNumber:          regexp.MustCompile(groupedNumberPattern),
		referencePattern:       regexp.MustCompile(referenceRegexPattern),
		whitespacePattern:      regexp.MustCompile(whitespaceRegexPattern),
		spaceBeforePunctuation: regexp.MustCompile(spaceBeforePunctPattern),
		codeFencePattern:       regexp.MustCompile(codeFenceRegexPattern),
		inlineCodePattern:      regexp.MustCompile(inlineCodeRegexPattern),
		linkPattern:            regexp.MustCompile(linkRegexPattern),
		headerPattern:          regexp.MustCompile(headerRegexPattern),
		listMarkerPattern:      regexp.MustCompile(listMarkerRegexPattern),
		quotePattern:           regexp.MustCompile(quoteRegexPattern),
		emphasisPattern:        regexp.MustCompile(emphasisRegexPattern),
		repeatedBang:           regexp.MustCompile(repeatedBangPattern),
		repeatedComma:          regexp.MustCompile(repeatedCommaPattern),
		longEllipsis:           regexp.MustCompile(longEllipsisPattern),
		abbreviationPattern:    compileAbbreviations(abbreviations),
		abbreviations:          abbreviations,
		symbolReplacer:         strings.NewReplacer("%", " percent", "&", " and "),
		typographyReplacer: strings.NewReplacer(
			emDash, "-",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// PreprocessText normalizes text for the given language code. Markdown, reference
// markers, typography and whitespace are handled for every language; abbreviations
// and numbers are expanded for English only.
func (p *Preprocessor) PreprocessText(text, language string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	cleanedText := p.stripMarkdown(text)

	// URLs are reduced to their host and, like emails, kept out of the rewriting below.
	preservedText, placeholders := p.preserveTokens(cleanedText)

	cleanedText = p.removeReferences(preservedText)

	if strings.EqualFold(language, languageEnglish) {
		cleanedText = p.expandAbbreviations(cleanedText)
		cleanedText = p.normalizeNumbers(cleanedText)
	}

	cleanedText = p.normalizeWhitespace(cleanedText)

	restoredText := p.restoreTokens(cleanedText, placeholders)

	return p.finalCleanup(restoredText)
}

// stripMarkdown removes code blocks and formatting markers. Headers and list items
// become sentences of their own.
func (p *Preprocessor) stripMarkdown(text string) string {
	text = p.codeFencePattern.ReplaceAllString(text, " ")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		structural := p.headerPattern.MatchString(line) || p.listMarkerPattern.MatchString(line)

		line = p.headerPattern.ReplaceAllString(line, "")
		line = p.listMarkerPattern.ReplaceAllString(line, "")
		line = p.quotePattern.ReplaceAllString(line, "")
		line = p.linkPattern.ReplaceAllString(line, "$1")
		line = p.inlineCodePattern.ReplaceAllString(line, "$1")
		line = p.emphasisPattern.ReplaceAllString(line, "")
		line = strings.TrimSpace(line)

		if line == "" {
			continue
		}

		if structural {
			line = p.ensureProperSentenceEndings(line)
		}

		kept = append(kept, line)
	}

	return strings.Join(kept, "\n")
}

// compileAbbreviations matches any of the abbreviations as a whole word, so "devs."
// is left alone while "vs." is expanded.
func compileAbbreviations(abbreviations map[string]string) *regexp.Regexp {
	keys := slices.SortedFunc(maps.Keys(abbreviations), func(a, b string) int {
		return cmp.Compare(len(b), len(a))
	})

	quoted := make([]string, 0, len(keys))
	for _, key := range keys {
		quoted = append(quoted, regexp.QuoteMeta(key))
	}

	return regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)`)
}

// expandAbbreviations converts common abbreviations and symbols to their full form.
func (p *Preprocessor) expandAbbreviations(text string) string {
	text = p.abbreviationPattern.ReplaceAllStringFunc(text, func(match string) string {
		return p.abbreviations[match]
	})

	return p.symbolReplacer.Replace(text)
}

// normalizeNumbers converts integers and decimals to words. Digit-group commas are
// dropped first so "1,500" reads as one number.
func (p *Preprocessor) normalizeNumbers(text string) string {
	text = p.groupedNumber.ReplaceAllStringFunc(text, func(s string) string {
		return strings.ReplaceAll(s, ",", "")
	})

	return p.numberPattern.ReplaceAllStringFunc(text, func(s string) string {
		whole, fraction, hasFraction := strings.Cut(s, ".")

		num, err := strconv.Atoi(whole)
		if err != nil {
			return s
		}

		words := integerToWords(num)
		if !hasFraction {
			return words
		}

		digits := make([]string, 0, len(fraction))
		for _, digit := range fraction {
			digits = append(digits, integerToWords(int(digit-'0')))
		}

		return words + " point " + strings.Join(digits, " ")
	})
}

// preserveTokens replaces emails with placeholders and URLs with placeholders for
// their host name.
func (p *Preprocessor) preserveTokens(
	text string,
) (processedText string, placeholders map[string]string) {
	placeholders = make(map[string]string)

	counter := 0

	replaceFunc := func(pattern *regexp.Regexp, spoken func(string) string) {
		processedText = pattern.ReplaceAllStringFunc(
			processedText,
			func(match string) string {
				placeholder := placeholderPrefix + placeholderKey(counter) + placeholderSuffix

				placeholders[placeholder] = spoken(match)
				counter++

				return placeholder
			},
		)
	}

	processedText = text

	replaceFunc(p.urlPattern, spokenURL)
	replaceFunc(p.emailPattern, func(email string) string { return email })

	return processedText, placeholders
}

// restoreTokens restores URLs and emails from placeholders.
func (p *Preprocessor) restoreTokens(text string, placeholders map[string]string) string {
	for placeholder, original := range placeholders {
		text = strings.ReplaceAll(text, placeholder, original)
	}

	return text
}

// removeReferences removes citation markers such as [1] or ².
func (p *Preprocessor) removeReferences(text string) string {
	return p.referencePattern.ReplaceAllString(text, "")
}

// normalizeWhitespace collapses runs of whitespace and drops spaces before punctuation.
func (p *Preprocessor) normalizeWhitespace(text string) string {
	text = p.whitespacePattern.ReplaceAllString(text, " ")
	text = p.spaceBeforePunctuation.ReplaceAllString(text, "$1")

	return strings.TrimSpace(text)
}

// finalCleanup performs final text cleanup.
func (p *Preprocessor) finalCleanup(text string) string {
	text = p.typographyReplacer.Replace(text)
	text = p.removeExcessivePunctuation(text)

	return p.ensureProperSentenceEndings(text)
}

// removeExcessivePunctuation collapses repeated marks like "!!!" or ",,".
func (p *Preprocessor) removeExcessivePunctuation(text string) string {
	text = p.repeatedBang.ReplaceAllString(text, "$1")
	text = p.repeatedComma.ReplaceAllString(text, "$1")

	return p.longEllipsis.ReplaceAllString(text, ellipsis)
}

// ensureProperSentenceEndings ensures sentences end with proper punctuation.
func (p *Preprocessor) ensureProperSentenceEndings(text string) string {
	trimmedText := strings.TrimSpace(text)
	if trimmedText == "" {
		return ""
	}

	lastChar, _ := utf8.DecodeLastRuneInString(trimmedText)

	switch lastChar {
	case '.', '!', '?':
		return trimmedText
	case '"', '\'', ')':
		// Closing marks after a finished sentence, e.g. `He said "Hi."`.
		beforeClose, _ := utf8.DecodeLastRuneInString(trimmedText[:len(trimmedText)-1])
		if beforeClose == '.' || beforeClose == '!' || beforeClose == '?' {
			return trimmedText
		}

		return trimmedText + "."
	default:
		if unicode.IsPunct(lastChar) {
			return strings.TrimRightFunc(trimmedText, unicode.IsPunct) + "."
		}

		return trimmedText + "."
	}
}

// spokenURL reduces a URL to its host, which is the part worth reading aloud.
func spokenURL(raw string) string {
	raw = strings.TrimRight(raw, ".,;:!?")

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return raw
	}

	return strings.TrimPrefix(parsed.Host, "www.")
}

func placeholderKey(index int) string {
	base := len(placeholderDigits)
	key := string(placeholderDigits[index%base])

	for index /= base; index > 0; index /= base {
		key = string(placeholderDigits[index%base]) + key
	}

	return key
}

type numberConverter struct {
	ones  []string
	teens []string
	tens  []string
}

func newNumberConverter() *numberConverter {
	return &numberConverter{
		ones: []string{
			"", "one", "two", "three", "four", "five",
			"six", "seven", "eight", "nine",
		},
		teens: []string{
			"ten", "eleven", "twelve", "thirteen", "fourteen",
			"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
		},
		tens: []string{
			"", "", "twenty", "thirty", "forty", "fifty",
			"sixty", "seventy", "eighty", "ninety",
		},
	}
}

func (nc *numberConverter) convertTens(num int) string {
	result := nc.tens[num/NumberBaseTen]
	if num%NumberBaseTen > 0 {
		result += " " + nc.ones[num%NumberBaseTen]
	}

	return result
}

func (nc *numberConverter) convertUnderHundred(num int) string {
	if num < NumberBaseTen {
		return nc.ones[num]
	}

	if num < NumberBaseTwenty {
		return nc.teens[num-NumberBaseTen]
	}

	return nc.convertTens(num)
}

func (nc *numberConverter) convertUnderThousand(num int) string {
	var parts []string

	if hundreds := num / NumberBaseHundred; hundreds > 0 {
		parts = append(parts, nc.ones[hundreds]+" hundred")
	}

	if remainder := num % NumberBaseHundred; remainder > 0 {
		parts = append(parts, nc.convertUnderHundred(remainder))
	}

	return strings.Join(parts, " ")
}

// integerToWords converts 0..MaxNumberForWords into English words. Other values are
// returned as digits.
func integerToWords(number int) string {
	if number < 0 || number > MaxNumberForWords {
		return strconv.Itoa(number)
	}

	if number == 0 {
		return "zero"
	}

	converter := newNumberConverter()

	var parts []string

	if thousands := number / NumberBaseThousand; thousands > 0 {
		parts = append(parts, fmt.Sprintf("%s thousand", converter.convertUnderThousand(thousands)))
	}

	if remainder := number % NumberBaseThousand; remainder > 0 {
		parts = append(parts, converter.convertUnderThousand(remainder))
	}

	return strings.Join(parts, " ")
}
