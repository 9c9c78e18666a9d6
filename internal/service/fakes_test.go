package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"line-gemini-relay/internal/model"
	"line-gemini-relay/pkg/llm"
	"line-gemini-relay/pkg/tasks"
)

var errDiskFull = errors.New("disk full")

// memRepo is an in-memory ConversationRepository that can be told to fail.
type memRepo struct {
	mu       sync.Mutex
	snapshot []model.Conversation
	saves    int
	failSave error
	failLoad error
}

func (r *memRepo) Load(ctx context.Context) ([]model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failLoad != nil {
		return nil, r.failLoad
	}
	out := make([]model.Conversation, len(r.snapshot))
	copy(out, r.snapshot)
	return out, nil
}

func (r *memRepo) Save(ctx context.Context, entries []model.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSave != nil {
		return r.failSave
	}
	r.saves++
	r.snapshot = make([]model.Conversation, len(entries))
	copy(r.snapshot, entries)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []tasks.ConversationEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event tasks.ConversationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

type fakeArchiver struct {
	archived [][]model.Conversation
	err      error
}

func (a *fakeArchiver) Archive(ctx context.Context, entries []model.Conversation) error {
	if a.err != nil {
		return a.err
	}
	cp := make([]model.Conversation, len(entries))
	copy(cp, entries)
	a.archived = append(a.archived, cp)
	return nil
}

// fakeGateway returns a canned llm.Result and records prompts.
type fakeGateway struct {
	result  llm.Result
	prompts []string
}

func (g *fakeGateway) Generate(ctx context.Context, prompt string) llm.Result {
	g.prompts = append(g.prompts, prompt)
	return g.result
}

func fixedClock() func() time.Time {
	t := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	return func() time.Time { return t }
}
