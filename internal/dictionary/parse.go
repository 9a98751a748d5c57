package dictionary

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"html"
	"io"
	"regexp"
	"strconv"
	"strings"
)

const headerTag = "Lemmanummer"

// Column positions in a Lemmanummer export.
const (
	colLemma       = 1
	colTrefwoord   = 3
	colWoord       = 5
	colStad        = 10
	colToelichting = 14
	colKloeke      = 15
	minColumns     = colKloeke + 1
)

var ErrBadHeader = errors.New("file does not start with " + headerTag)

// fileNamePattern matches export names such as d1-a2.csv or d3-s1-a4.txt.
var fileNamePattern = regexp.MustCompile(`^d(\d+)(?:-s(\d+))?-a(\d+)\.(?:csv|tsv|txt)$`)

// ParseFileName derives the installment from an export file name such as
// d1-a2.csv.
func ParseFileName(name string) (Aflevering, bool) {
	m := fileNamePattern.FindStringSubmatch(strings.ToLower(name))
	if m == nil {
		return Aflevering{}, false
	}
	var a Aflevering
	a.Deel, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		a.Sectie, _ = strconv.Atoi(m[2])
	}
	a.Number, _ = strconv.Atoi(m[3])
	return a, true
}

// parseEntries reads a tab-separated export. onLine is called after every
// data line with whether it became an entry.
func parseEntries(r io.Reader, onLine func(ok bool) error) ([]Entry, error) {
	br := bufio.NewReader(r)
	if bom, err := br.Peek(3); err == nil && string(bom) == "\xef\xbb\xbf" {
		_, _ = br.Discard(3)
	}

	cr := csv.NewReader(br)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrBadHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if strings.TrimSpace(header[0]) != headerTag {
		return nil, ErrBadHeader
	}

	var entries []Entry
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		ok := false
		var perr *csv.ParseError
		switch {
		case err == nil:
			var e Entry
			if e, ok = toEntry(record); ok {
				entries = append(entries, e)
			}
		case errors.As(err, &perr):
			// A malformed line counts as skipped.
		default:
			return nil, err
		}
		if onLine != nil {
			if err := onLine(ok); err != nil {
				return nil, err
			}
		}
	}
}

func toEntry(record []string) (Entry, bool) {
	if len(record) < minColumns {
		return Entry{}, false
	}
	e := Entry{
		Lemma:       cleanField(record[colLemma]),
		Trefwoord:   cleanField(html.UnescapeString(record[colTrefwoord])),
		Woord:       cleanField(html.UnescapeString(record[colWoord])),
		Stad:        cleanField(record[colStad]),
		Toelichting: cleanField(record[colToelichting]),
		Kloeke:      cleanField(record[colKloeke]),
	}
	for _, v := range []string{e.Lemma, e.Trefwoord, e.Woord, e.Stad, e.Kloeke} {
		if !usable(v) {
			return Entry{}, false
		}
	}
	return e, true
}

func cleanField(s string) string {
	s = strings.TrimSpace(strings.Trim(s, `"`))
	if len(s) >= 2 && strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'") {
		s = strings.Trim(s, "'")
	}
	if s == "NULL" {
		return ""
	}
	return s
}

// usable rejects the placeholders exports use for missing values.
func usable(s string) bool {
	if s == "" || s == "?" || s == "-" || strings.HasPrefix(s, "#") {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return true
		}
	}
	return false
}

// cleanGloss trims whitespace, then every leading and trailing quote when the
// gloss is wrapped in them. It reports whether anything changed.
func cleanGloss(gloss string) (string, bool) {
	s := strings.TrimSpace(gloss)
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		s = strings.Trim(s, `"`)
	}
	if len(s) >= 2 && strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'") {
		s = strings.Trim(s, "'")
	}
	return s, s != gloss
}
