// Package archive keeps a history of sealed test reports in Redis, so that a build dashboard
// or a later harness process can look at recent runs.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/statlight/harness/framework"
	"github.com/statlight/harness/framework/eventbus"
	"github.com/statlight/harness/framework/events"
	"github.com/statlight/harness/framework/results"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix = "statlight"
	DefaultLimit     = 100

	saveTimeout = 5 * time.Second
	summaryTTL  = 7 * 24 * time.Hour
)

// Redis stores each report as JSON at the head of a capped list, plus a hash of summary
// counts per run.
type Redis struct {
	redis  *redis.Client
	prefix string
	limit  int64
	logger framework.Logger
}

// NewRedis connects to the server described by a redis:// URL. Reports beyond the most
// recent limit are discarded; a limit of zero means DefaultLimit.
func NewRedis(url string, limit int, logger framework.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Redis{
		redis:  redis.NewClient(opts),
		prefix: DefaultKeyPrefix,
		limit:  int64(limit),
		logger: framework.OrNullLogger(logger),
	}, nil
}

func (r *Redis) DSN() string {
	return fmt.Sprintf("redis://%s", r.redis.Options().Addr)
}

// Ping verifies that the server is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.redis.Ping(ctx).Err()
}

// Save adds a report to the history.
func (r *Redis) Save(ctx context.Context, report *results.TestReport) error {
	if report == nil {
		return errors.New("report is required")
	}
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	summary := map[string]interface{}{
		"name":      report.Name,
		"result":    report.FinalResult().String(),
		"total":     strconv.Itoa(report.Total()),
		"passed":    strconv.Itoa(report.Passed()),
		"failed":    strconv.Itoa(report.Failed()),
		"ignored":   strconv.Itoa(report.Ignored()),
		"startTime": report.StartTime.UTC().Format(time.RFC3339),
	}
	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, r.reportsKey(), data)
		pipe.LTrim(ctx, r.reportsKey(), 0, r.limit-1)
		if report.RunID != "" {
			pipe.HSet(ctx, r.runKey(report.RunID), summary)
			pipe.Expire(ctx, r.runKey(report.RunID), summaryTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving report to %s: %w", r.DSN(), err)
	}
	return nil
}

// Recent returns up to n reports, newest first.
func (r *Redis) Recent(ctx context.Context, n int) (results.TestReportCollection, error) {
	if n <= 0 {
		return nil, nil
	}
	values, err := r.redis.LRange(ctx, r.reportsKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading reports from %s: %w", r.DSN(), err)
	}
	ret := make(results.TestReportCollection, 0, len(values))
	for _, v := range values {
		var report results.TestReport
		if err := json.Unmarshal([]byte(v), &report); err != nil {
			return nil, fmt.Errorf("malformed report in %s: %w", r.reportsKey(), err)
		}
		ret = append(ret, &report)
	}
	return ret, nil
}

// Summary returns the summary counts stored for a run, or an empty map if there are none.
func (r *Redis) Summary(ctx context.Context, runID string) (map[string]string, error) {
	return r.redis.HGetAll(ctx, r.runKey(runID)).Result()
}

// Reset deletes the report list. Run summaries expire on their own.
func (r *Redis) Reset(ctx context.Context) error {
	return r.redis.Del(ctx, r.reportsKey()).Err()
}

// Attach saves every sealed report published on the bus. Failures are logged, since they do
// not affect the report itself.
func (r *Redis) Attach(bus *eventbus.Bus) (detach func()) {
	token := eventbus.Subscribe(bus, func(e events.ReportSealed) {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := r.Save(ctx, e.Report); err != nil {
			r.logger.Printf("Could not archive report: %s", err)
		}
	})
	return token.Unsubscribe
}

func (r *Redis) Close() error {
	return r.redis.Close()
}

func (r *Redis) reportsKey() string { return r.prefix + ":reports" }

func (r *Redis) runKey(runID string) string { return r.prefix + ":run:" + runID }
