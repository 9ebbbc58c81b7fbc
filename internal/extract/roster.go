package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrTableNotFound is returned when a course page has no member table.
var ErrTableNotFound = errors.New("member table not found")

const memberTableSelector = "table.table.table-striped.fullwidth"

// Mode selects which member table column is collected.
type Mode string

const (
	ModeUsername Mode = "username"
	ModeEmail    Mode = "email"
)

// column returns the cell index read for the mode and the minimum number of
// cells a row needs to qualify.
func (m Mode) column() (index, minCells int, err error) {
	switch m {
	case ModeUsername:
		return 2, 3, nil
	case ModeEmail:
		return 4, 5, nil
	default:
		return 0, 0, fmt.Errorf("unknown extract mode %q", string(m))
	}
}

// ParseMode validates a configured mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if _, _, err := m.column(); err != nil {
		return "", err
	}
	return m, nil
}

// Roster reads one column of the course member table in row order. Rows with
// too few cells are skipped; duplicates are kept.
func Roster(html string, mode Mode) ([]string, error) {
	index, minCells, err := mode.column()
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse course page: %w", err)
	}

	table := doc.Find(memberTableSelector).First()
	if table.Length() == 0 {
		return nil, ErrTableNotFound
	}

	values := []string{}
	table.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td")
		if cells.Length() < minCells {
			return
		}
		values = append(values, strings.TrimSpace(cells.Eq(index).Text()))
	})

	return values, nil
}
