package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/shehryarbajwa/rostersync/internal/extract"
)

var errMissingRefID = errors.New("course link has no ref_id")

// scrape enumerates the user's courses and collects one roster per course.
// A failing course is recorded in Result.Failures and skipped; only failures
// before enumeration, or cancellation, abort the whole scrape.
func (m *Manager) scrape(ctx context.Context, sess *Session) (*Result, error) {
	logger := m.logger.WithField("session-id", sess.ID)

	html, err := m.load(ctx, sess.page, m.opts.Portal.OverviewURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load membership overview: %w", err)
	}

	courses, err := extract.Courses(html)
	if err != nil {
		return nil, err
	}
	logger.WithField("courses", len(courses)).Info("found courses")

	result := &Result{
		Records:  []RosterRecord{},
		Failures: []CourseFailure{},
	}
	for _, course := range courses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		students, err := m.scrapeCourse(ctx, sess.page, course)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.metrics.CourseScrapes.WithLabelValues("error").Inc()
			logger.WithError(err).Warn("skipping course")
			reason := err.Error()
			var scrapeErr *ScrapeError
			if errors.As(err, &scrapeErr) {
				reason = scrapeErr.Err.Error()
			}
			result.Failures = append(result.Failures, CourseFailure{
				CourseName:  course.Name,
				CourseRefID: course.RefID,
				Reason:      reason,
			})
			continue
		}

		m.metrics.CourseScrapes.WithLabelValues("ok").Inc()
		sess.touch(m.now())
		result.Records = append(result.Records, RosterRecord{
			CourseName:  course.Name,
			CourseRefID: course.RefID,
			Students:    students,
		})
	}

	logger.WithField("records", len(result.Records)).
		WithField("failures", len(result.Failures)).
		Info("scrape finished")
	return result, nil
}

// scrapeCourse returns the roster column of one course. Errors are always
// *ScrapeError.
func (m *Manager) scrapeCourse(ctx context.Context, page Page, course extract.Course) ([]string, error) {
	if course.RefID == "" {
		return nil, &ScrapeError{Course: course, Err: errMissingRefID}
	}

	courseURL := m.opts.Portal.CourseURL(course.RefID)
	m.logger.WithField("course", course.Name).WithField("url", courseURL).Debug("visiting course")

	html, err := m.load(ctx, page, courseURL)
	if err != nil {
		return nil, &ScrapeError{Course: course, Err: err}
	}

	students, err := extract.Roster(html, m.opts.Mode)
	if err != nil {
		return nil, &ScrapeError{Course: course, Err: err}
	}
	return students, nil
}

// load navigates to url and returns the rendered document.
func (m *Manager) load(ctx context.Context, page Page, url string) (string, error) {
	sctx, cancel := m.stepContext(ctx)
	defer cancel()

	if err := page.Navigate(sctx, url); err != nil {
		return "", err
	}
	return page.Content(sctx)
}
