package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// groupIconAlt marks membership rows that are groups, not courses.
const groupIconAlt = "Symbol Gruppe"

var refIDPattern = regexp.MustCompile(`ref_id=(\d+)`)

// Course is one entry of the portal's membership overview.
type Course struct {
	Name  string `json:"name"`
	RefID string `json:"refId"`
	URL   string `json:"url"`
}

// Courses parses the membership overview page and returns the courses in
// page order. Rows without a title anchor are skipped entirely.
func Courses(html string) ([]Course, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse overview page: %w", err)
	}

	var courses []Course
	doc.Find(".il-std-item").Each(func(_ int, row *goquery.Selection) {
		icon := row.Find("img.icon").First()
		if icon.Length() == 0 {
			return
		}
		if alt, _ := icon.Attr("alt"); alt == groupIconAlt {
			return
		}

		anchor := row.Find(".il-item-title a").First()
		if anchor.Length() == 0 {
			return
		}

		href, _ := anchor.Attr("href")
		courses = append(courses, Course{
			Name:  strings.TrimSpace(anchor.Text()),
			RefID: RefID(href),
			URL:   href,
		})
	})

	return courses, nil
}

// RefID returns the numeric ref_id query value of a course link, or "" when
// the link has none.
func RefID(link string) string {
	match := refIDPattern.FindStringSubmatch(link)
	if match == nil {
		return ""
	}
	return match[1]
}
