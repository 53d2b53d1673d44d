package stack

import (
	"context"
	"sync"

	"skald/api/model"
)

// scripted is a Backend that replays canned answers.
type scripted struct {
	mu sync.Mutex

	exists    bool
	existsErr []error
	createErr error
	updateErr error

	// describe results are consumed in order; the last one repeats.
	describe []describeStep
	events   []model.StackEvent
	eventErr error

	created, updated, described int
	lastTemplate                model.Template
	lastParams                  map[string]string
}

type describeStep struct {
	obs Observation
	err error
}

func (s *scripted) Exists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.existsErr) > 0 {
		err := s.existsErr[0]
		s.existsErr = s.existsErr[1:]
		return false, err
	}
	return s.exists, nil
}

func (s *scripted) Create(ctx context.Context, name string, tpl model.Template, params map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created++
	s.lastTemplate, s.lastParams = tpl, params
	return "create-1", s.createErr
}

func (s *scripted) Update(ctx context.Context, name string, tpl model.Template, params map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated++
	s.lastTemplate, s.lastParams = tpl, params
	if s.updateErr != nil {
		return "", s.updateErr
	}
	return "update-1", nil
}

func (s *scripted) Describe(ctx context.Context, op model.StackOperation) (Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.described++
	step := s.describe[0]
	if len(s.describe) > 1 {
		s.describe = s.describe[1:]
	}
	return step.obs, step.err
}

func (s *scripted) Events(ctx context.Context, op model.StackOperation) ([]model.StackEvent, error) {
	return s.events, s.eventErr
}

func inProgress(raw string) describeStep {
	return describeStep{obs: Observation{Status: model.StackInProgress, Raw: raw}}
}
