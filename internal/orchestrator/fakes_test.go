package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/xkilldash9x/herald/api/schemas"
	"github.com/xkilldash9x/herald/internal/notify"
)

type fakeAPI struct {
	mu          sync.Mutex
	credential  string
	registerErr error
	agentID     string
	task        []byte
	getTaskErr  error
	reportErr   error

	platformErr error

	registers  int
	getTasks   int
	heartbeats int
	reports    []schemas.ReportStatusRequest
	platforms  []schemas.PlatformRequest
}

func (f *fakeAPI) AddPlatform(ctx context.Context, req schemas.PlatformRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.platforms = append(f.platforms, req)
	return f.platformErr
}

func (f *fakeAPI) announcedPlatforms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.platforms))
	for _, p := range f.platforms {
		out = append(out, p.Platform)
	}
	return out
}

func (f *fakeAPI) SetCredential(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credential = key
}

func (f *fakeAPI) Register(ctx context.Context, req schemas.RegisterRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registers++
	if f.registerErr != nil {
		return "", f.registerErr
	}
	return f.agentID, nil
}

func (f *fakeAPI) GetTask(ctx context.Context, req schemas.GetTaskRequest) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getTasks++
	return f.task, f.getTaskErr
}

func (f *fakeAPI) ReportStatus(ctx context.Context, req schemas.ReportStatusRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, req)
	return f.reportErr
}

func (f *fakeAPI) Heartbeat(ctx context.Context, req schemas.HeartbeatRequest) (schemas.HeartbeatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return schemas.HeartbeatResponse{Success: true}, nil
}

func (f *fakeAPI) reportList() []schemas.ReportStatusRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]schemas.ReportStatusRequest(nil), f.reports...)
}

func (f *fakeAPI) getTaskCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getTasks
}

type fakeTabs struct {
	mu         sync.Mutex
	loggedIn   []schemas.PlatformID
	loginErr   error
	acquireErr error
	acquired   []schemas.PlatformID
}

func (f *fakeTabs) AcquireTab(ctx context.Context, p schemas.PlatformID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired = append(f.acquired, p)
	if f.acquireErr != nil {
		return "", f.acquireErr
	}
	return "tab-" + string(p), nil
}

func (f *fakeTabs) LoggedIn(ctx context.Context, platforms []schemas.PlatformID) ([]schemas.PlatformID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedIn, f.loginErr
}

func (f *fakeTabs) acquiredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acquired)
}

type fakeExec struct {
	mu        sync.Mutex
	entered   chan struct{}
	release   chan struct{}
	outcome   schemas.ActionOutcome
	err       error
	panicWith interface{}
	deadlines []time.Time
	targets   []string
}

func (f *fakeExec) Execute(ctx context.Context, targetID string, task schemas.Task, deadline time.Time) (schemas.ActionOutcome, error) {
	f.mu.Lock()
	f.deadlines = append(f.deadlines, deadline)
	f.targets = append(f.targets, targetID)
	entered, release, p := f.entered, f.release, f.panicWith
	f.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if release != nil {
		<-release
	}
	if p != nil {
		panic(p)
	}
	return f.outcome, f.err
}

type fakeAlarms struct {
	mu      sync.Mutex
	created map[string]time.Duration
	cleared []string
	err     error
}

func (f *fakeAlarms) Create(name string, period time.Duration, fn func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.created == nil {
		f.created = make(map[string]time.Duration)
	}
	f.created[name] = period
	return nil
}

func (f *fakeAlarms) Next(name string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	period, ok := f.created[name]
	if !ok {
		return time.Time{}, false
	}
	return time.Date(2025, 11, 2, 10, 0, 0, 0, time.UTC).Add(period), true
}

func (f *fakeAlarms) Clear(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, name)
	_, ok := f.created[name]
	delete(f.created, name)
	return ok
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}
