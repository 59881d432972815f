package archive

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/statlight/harness/framework"
	"github.com/statlight/harness/framework/eventbus"
	"github.com/statlight/harness/framework/events"
	"github.com/statlight/harness/framework/results"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a real Redis server, e.g. REDIS_URL=redis://localhost:6379/0
func makeArchive(t *testing.T, limit int) *Redis {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL is not set")
	}
	r, err := NewRedis(url, limit, nil)
	require.NoError(t, err)
	r.prefix = "statlight-test-" + uuid.NewString()
	ctx := context.Background()
	require.NoError(t, r.Ping(ctx))
	t.Cleanup(func() {
		_ = r.Reset(ctx)
		_ = r.Close()
	})
	return r
}

func makeReport(name string, outcomes ...results.OutcomeKind) *results.TestReport {
	report := results.NewTestReport(name, uuid.NewString(), time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	for i, o := range outcomes {
		report.Add(results.TestCaseResult{
			ClassName:  "Suite",
			MethodName: string(rune('a' + i)),
			Outcome:    o,
		})
	}
	return report
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	_, err := NewRedis("http://nope", 0, nil)
	assert.Error(t, err)
}

func TestNewRedisDefaults(t *testing.T) {
	r, err := NewRedis("redis://example:6380/2", 0, nil)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, "redis://example:6380", r.DSN())
	assert.Equal(t, int64(DefaultLimit), r.limit)
	assert.Equal(t, "statlight:reports", r.reportsKey())
	assert.Equal(t, "statlight:run:x", r.runKey("x"))
}

func TestSaveAndRecent(t *testing.T) {
	r := makeArchive(t, 2)
	ctx := context.Background()

	first := makeReport("first", results.Passed)
	second := makeReport("second", results.Passed, results.Failed)
	third := makeReport("third", results.Ignored)
	for _, report := range []*results.TestReport{first, second, third} {
		require.NoError(t, r.Save(ctx, report))
	}

	recent, err := r.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "third", recent[0].Name)
	assert.Equal(t, "second", recent[1].Name)
	assert.Equal(t, second.RunID, recent[1].RunID)
	assert.Equal(t, 1, recent[1].Failed())
	assert.Equal(t, results.Failure, recent[1].FinalResult())

	summary, err := r.Summary(ctx, second.RunID)
	require.NoError(t, err)
	assert.Equal(t, "Failure", summary["result"])
	assert.Equal(t, "2", summary["total"])
	assert.Equal(t, "1", summary["passed"])
}

func TestRecentWithNonPositiveCount(t *testing.T) {
	r, err := NewRedis("redis://localhost:6379", 0, nil)
	require.NoError(t, err)
	defer r.Close()
	recent, err := r.Recent(context.Background(), 0)
	assert.NoError(t, err)
	assert.Nil(t, recent)
}

func TestSaveNilReport(t *testing.T) {
	r, err := NewRedis("redis://localhost:6379", 0, nil)
	require.NoError(t, err)
	defer r.Close()
	assert.Error(t, r.Save(context.Background(), nil))
}

func TestAttachSavesSealedReports(t *testing.T) {
	r := makeArchive(t, 0)
	bus := eventbus.New(framework.NullLogger())
	detach := r.Attach(bus)

	report := makeReport("sealed", results.Passed)
	require.NoError(t, bus.Publish(events.ReportSealed{Report: report}))
	detach()
	require.NoError(t, bus.Publish(events.ReportSealed{Report: makeReport("after")}))

	recent, err := r.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, report.RunID, recent[0].RunID)
}
