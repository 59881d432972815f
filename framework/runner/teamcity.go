package runner

import (
	"context"
	"errors"

	"github.com/statlight/harness/framework/events"
	"github.com/statlight/harness/framework/results"
	"github.com/statlight/harness/framework/teamcity"
)

// TeamCity is a OneShot controller whose results are also written as TeamCity service
// messages, bracketed by suite start and finish messages named after the run.
type TeamCity struct {
	*OneShot
	emitter *teamcity.Emitter
	detach  func()
}

// NewTeamCity creates a TeamCity controller.
func NewTeamCity(deps Dependencies) (*TeamCity, error) {
	if err := deps.validate(ModeTeamCity); err != nil {
		return nil, err
	}
	o, err := NewOneShot(deps)
	if err != nil {
		return nil, err
	}
	return &TeamCity{
		OneShot: o,
		emitter: deps.Emitter,
		detach:  events.AttachHandler(deps.Bus, deps.Emitter),
	}, nil
}

func (t *TeamCity) Run(ctx context.Context) (*results.TestReport, error) {
	t.emitter.PublishStart(t.deps.Name)
	report, err := t.OneShot.Run(ctx)
	t.emitter.PublishStop(t.deps.Name)
	return report, errors.Join(err, wrapIfError(t.emitter.Err(), "writing TeamCity messages"))
}

func (t *TeamCity) Close() error {
	t.detach()
	return t.OneShot.Close()
}
