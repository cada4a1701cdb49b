package tracking

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/epimonitor/manager/internal/errors"
	"github.com/epimonitor/manager/pkg/types"
)

// DefaultTimezone is the zone the weekly window is computed in.
const DefaultTimezone = "America/Sao_Paulo"

// ReportPolicy describes which organizations are expected to upload for
// which projects, and when the weekly window starts.
type ReportPolicy struct {
	Projects      []string
	Organizations []string

	// Excluded maps a project to the organizations that never upload for it.
	// Their entries are reported as not applicable.
	Excluded map[string][]string

	Weekday  time.Weekday
	Location *time.Location
}

// DefaultReportPolicy returns the roster of the production deployment.
func DefaultReportPolicy() ReportPolicy {
	return ReportPolicy{
		Projects:      []string{"arbo", "respat"},
		Organizations: []string{"fleury", "einstein", "sabin", "hlagyn", "hilab", "hpardini", "dbmol"},
		Excluded:      map[string][]string{},
		Weekday:       time.Friday,
		Location:      LoadLocation(DefaultTimezone),
	}
}

// LoadLocation loads a named zone, falling back to UTC-3 for the default
// zone and UTC otherwise when no tz database is available.
func LoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc
	}
	if name == DefaultTimezone {
		return time.FixedZone(DefaultTimezone, -3*60*60)
	}
	return time.UTC
}

// WindowStart returns local midnight, in loc, of the most recent weekday at
// or before now.
func WindowStart(now time.Time, weekday time.Weekday, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	back := (int(local.Weekday()) - int(weekday) + 7) % 7
	return time.Date(local.Year(), local.Month(), local.Day()-back, 0, 0, 0, 0, loc)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// excludedSet turns the exclusion table into a normalized lookup.
func (p ReportPolicy) excludedSet() map[string]map[string]bool {
	set := make(map[string]map[string]bool, len(p.Excluded))
	for project, orgs := range p.Excluded {
		inner := make(map[string]bool, len(orgs))
		for _, org := range orgs {
			inner[normalize(org)] = true
		}
		set[normalize(project)] = inner
	}
	return set
}

// ListRecentUploads reports, for each configured project and roster
// organization, whether a file arrived since the start of the weekly window.
func (s *Service) ListRecentUploads(ctx context.Context) (*types.UploadReport, error) {
	policy := s.config.Report
	now := s.now()
	start := WindowStart(now, policy.Weekday, policy.Location)

	files, err := s.store.FilesSince(ctx, start)
	if err != nil {
		return nil, apperrors.NewStoreError("failed to list recent files", err)
	}

	// project -> organization -> display names, in upload order
	uploaded := make(map[string]map[string][]string)
	for _, f := range files {
		project, org := normalize(f.Project), normalize(f.Organization)
		if uploaded[project] == nil {
			uploaded[project] = make(map[string][]string)
		}
		uploaded[project][org] = append(uploaded[project][org], types.DisplayName(f.Filename))
	}

	excluded := policy.excludedSet()
	report := &types.UploadReport{
		WindowStart: start,
		GeneratedAt: now,
		Weekday:     policy.Weekday.String(),
		Projects:    make([]types.ProjectUploads, 0, len(policy.Projects)),
	}

	for _, project := range policy.Projects {
		entry := types.ProjectUploads{
			Project:       project,
			Organizations: make([]types.OrganizationUploads, 0, len(policy.Organizations)),
		}
		for _, org := range policy.Organizations {
			names := uploaded[normalize(project)][normalize(org)]
			state := types.UploadPending
			switch {
			case excluded[normalize(project)][normalize(org)]:
				state = types.UploadNotApplicable
			case len(names) > 0:
				state = types.UploadPresent
			}
			if names == nil {
				names = []string{}
			}
			entry.Organizations = append(entry.Organizations, types.OrganizationUploads{
				Organization: org,
				State:        state,
				Files:        names,
			})
		}
		report.Projects = append(report.Projects, entry)
	}

	return report, nil
}
