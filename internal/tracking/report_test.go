package tracking

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/epimonitor/manager/pkg/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowStart(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "friday is its own boundary",
			now:  time.Date(2026, 3, 6, 15, 0, 0, 0, loc),
			want: time.Date(2026, 3, 6, 0, 0, 0, 0, loc),
		},
		{
			name: "thursday goes back six days",
			now:  time.Date(2026, 3, 12, 23, 59, 0, 0, loc),
			want: time.Date(2026, 3, 6, 0, 0, 0, 0, loc),
		},
		{
			name: "saturday goes back one day",
			now:  time.Date(2026, 3, 7, 0, 1, 0, 0, loc),
			want: time.Date(2026, 3, 6, 0, 0, 0, 0, loc),
		},
		{
			name: "zone decides the local day",
			// 01:00 UTC on Saturday is still Friday evening in BRT
			now:  time.Date(2026, 3, 7, 1, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 6, 0, 0, 0, 0, loc),
		},
		{
			name: "crosses month boundary",
			now:  time.Date(2026, 4, 2, 9, 0, 0, 0, loc),
			want: time.Date(2026, 3, 27, 0, 0, 0, 0, loc),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WindowStart(tt.now, time.Friday, loc)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
		})
	}
}

func TestProperty_WindowStart(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	loc := time.FixedZone("BRT", -3*60*60)

	properties.Property("boundary is the most recent weekday midnight at or before now", prop.ForAll(
		func(unixSec int64, wd int) bool {
			now := time.Unix(unixSec, 0)
			weekday := time.Weekday(wd)
			start := WindowStart(now, weekday, loc)
			local := start.In(loc)

			return !start.After(now) &&
				local.Weekday() == weekday &&
				local.Hour() == 0 && local.Minute() == 0 && local.Second() == 0 &&
				now.Sub(start) < 7*24*time.Hour
		},
		gen.Int64Range(946684800, 4102444800),
		gen.IntRange(0, 6),
	))

	properties.TestingRun(t)
}

func TestService_ListRecentUploadsStates(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) // Tuesday
	clock := now
	env := newTestEnv(t, WithClock(func() time.Time { return clock }))
	env.service.config.Report = ReportPolicy{
		Projects:      []string{"arbo", "respat"},
		Organizations: []string{"fleury", "sabin", "hilab"},
		Excluded:      map[string][]string{"respat": {"HILAB"}},
		Weekday:       time.Friday,
		Location:      time.UTC,
	}
	ctx := context.Background()

	session, err := env.service.OpenSession(ctx, "email-extractor")
	require.NoError(t, err)

	upload := func(at time.Time, org, project, name string) {
		clock = at
		_, err := env.service.UploadFile(ctx, &FileUpload{
			SessionID:    session.SessionID,
			Organization: org,
			Project:      project,
			Filename:     name,
			Body:         strings.NewReader("x"),
			Size:         1,
		})
		require.NoError(t, err)
	}

	// Before the window (Thursday)
	upload(time.Date(2026, 3, 5, 18, 0, 0, 0, time.UTC), "fleury", "arbo", "old.csv")
	// Inside the window
	upload(time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC), "Sabin", "arbo", "sabin_2026-03-06__arbo.csv")
	upload(time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC), "sabin", "arbo", "extra.csv")
	upload(time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC), "hilab", "respat", "hilab.csv")
	upload(time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC), "unknown", "arbo", "ignored.csv")

	clock = now
	report, err := env.service.ListRecentUploads(ctx)
	require.NoError(t, err)

	assert.Equal(t, "Friday", report.Weekday)
	assert.True(t, report.WindowStart.Equal(time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)))
	require.Len(t, report.Projects, 2)
	assert.Len(t, report.Projects[0].Organizations, 3)

	fleury, ok := report.Lookup("arbo", "fleury")
	require.True(t, ok)
	assert.Equal(t, types.UploadPending, fleury.State)
	assert.Empty(t, fleury.Files)

	sabin, ok := report.Lookup("arbo", "sabin")
	require.True(t, ok)
	assert.Equal(t, types.UploadPresent, sabin.State)
	assert.Equal(t, []string{"arbo.csv", "extra.csv"}, sabin.Files)

	hilab, ok := report.Lookup("respat", "hilab")
	require.True(t, ok)
	assert.Equal(t, types.UploadNotApplicable, hilab.State)

	_, ok = report.Lookup("arbo", "unknown")
	assert.False(t, ok)
}

func TestService_ListRecentUploadsEmpty(t *testing.T) {
	env := newTestEnv(t)
	report, err := env.service.ListRecentUploads(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Projects, 2)
	for _, project := range report.Projects {
		for _, org := range project.Organizations {
			assert.Equal(t, types.UploadPending, org.State)
			assert.NotNil(t, org.Files)
		}
	}
}

func TestService_ListMatrices(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, key := range []string{
		"arbo/reports/current/matrices/csv/positivity.csv",
		"respat/reports/current/matrices/csv/cases.csv",
		"arbo/reports/archive/old.csv",
	} {
		require.NoError(t, env.public.Put(ctx, key, strings.NewReader("a,b\n"), 4))
	}

	matrices, err := env.service.ListMatrices(ctx)
	require.NoError(t, err)
	require.Len(t, matrices, 2)

	assert.Equal(t, "positivity.csv", matrices[0].Name)
	assert.Equal(t, "arbo", matrices[0].Project)
	assert.Equal(t, int64(4), matrices[0].Size)
	assert.Equal(t, "https://minio.example.org/public/arbo/reports/current/matrices/csv/positivity.csv", matrices[0].URL)
	assert.Equal(t, "respat", matrices[1].Project)
}

func TestService_ListMatricesWithoutPublicBucket(t *testing.T) {
	svc := NewService(newTestStore(t), nil, nil, DefaultServiceConfig())
	matrices, err := svc.ListMatrices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, matrices)
}
