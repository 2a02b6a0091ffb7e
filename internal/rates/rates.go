// Package rates extracts NOK exchange rates from the DNB currency page.
package rates

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"dnb-proxy/internal/model"
)

// Base is the currency every DNB rate is quoted against.
const Base = "NOK"

// ErrNoRates is returned when neither the tables nor the page text yield a rate.
var ErrNoRates = errors.New("no rates parsed from DNB page")

var (
	isoDate        = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	dottedDate     = regexp.MustCompile(`\d{2}\.\d{2}\.\d{4}`)
	currencyHeader = regexp.MustCompile(`(?i)valuta|kurs|valutakode|valutae|kursen`)
	currencyCode   = regexp.MustCompile(`\b([A-Z]{3})\b`)
	// A space or no-break space only groups thousands when an exact three-digit
	// group follows, so "1 234,56" and "6,8012" each stay whole.
	numberToken = regexp.MustCompile(`-?\d{1,3}(?:[ \x{00A0}]\d{3})+(?:[.,]\d+)*|-?\d+(?:[.,]\d+)*`)
	floatPrefix = regexp.MustCompile(`^-?(?:\d+(?:\.\d+)?|\.\d+)`)
	lineBreak   = regexp.MustCompile(`[\r\n]`)
)

// Extract parses page and returns every currency rate it can find.
// Rows come from tables whose header mentions a currency or rate; when no
// such table produces a rate the raw page is scanned line by line instead.
func Extract(page []byte) (*model.Rates, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	text := string(page)
	found := fromTables(doc)
	if len(found) == 0 {
		found = fromLines(text)
	}
	if len(found) == 0 {
		return nil, ErrNoRates
	}

	return &model.Rates{
		Base:  Base,
		Date:  findDate(text),
		Rates: found,
	}, nil
}

func fromTables(doc *goquery.Document) map[string]float64 {
	found := make(map[string]float64)

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		headers := table.Find("th").Map(func(_ int, th *goquery.Selection) string {
			return strings.ToLower(th.Text())
		})
		if !currencyHeader.MatchString(strings.Join(headers, " ")) {
			return
		}

		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			cells := tr.Find("td, th").Map(func(_ int, cell *goquery.Selection) string {
				return strings.TrimSpace(cell.Text())
			})
			if len(cells) < 2 {
				return
			}
			if code, rate, ok := parseRow(strings.Join(cells, " | ")); ok {
				found[code] = rate
			}
		})
	})

	return found
}

func fromLines(text string) map[string]float64 {
	found := make(map[string]float64)
	for _, line := range lineBreak.Split(text, -1) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if code, rate, ok := parseRow(line); ok {
			found[code] = rate
		}
	}
	return found
}

// parseRow takes the first three-letter upper-case code in row and the last
// numeric token as its rate.
func parseRow(row string) (string, float64, bool) {
	m := currencyCode.FindStringSubmatch(row)
	if m == nil {
		return "", 0, false
	}
	nums := numberToken.FindAllString(row, -1)
	if len(nums) == 0 {
		return "", 0, false
	}
	v, ok := ParseNumber(nums[len(nums)-1])
	if !ok {
		return "", 0, false
	}
	return m[1], v, true
}

// findDate returns the first ISO date on the page, falling back to the
// first DD.MM.YYYY date, or nil.
func findDate(text string) *string {
	if d := isoDate.FindString(text); d != "" {
		return &d
	}
	if d := dottedDate.FindString(text); d != "" {
		return &d
	}
	return nil
}

// ParseNumber reads a number written with either comma or dot decimals and
// optional grouping, e.g. "1 234,56", "1.234,56", "1,234.56" or "10".
// Whichever separator appears last is the decimal separator.
func ParseNumber(s string) (float64, bool) {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return 0, false
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot == lastComma: // neither present
		s = keep(s, "0123456789-")
	case lastComma > lastDot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
		s = keep(s, "0123456789.-")
	default:
		s = strings.ReplaceAll(s, ",", "")
		s = keep(s, "0123456789.-")
	}

	m := floatPrefix.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func keep(s, allowed string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(allowed, r) {
			return r
		}
		return -1
	}, s)
}
