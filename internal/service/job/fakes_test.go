package job

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"audiotricks-service/internal/domain/job"
	"audiotricks-service/internal/domain/plan"
	"audiotricks-service/internal/domain/upload"
	wstypes "audiotricks-service/internal/domain/websocket"
	"audiotricks-service/internal/domain/workspace"
	xerrors "audiotricks-service/internal/pkg/errors"
)

// memJobs is an in-memory job table with the same conditional semantics as
// the postgres repository.
type memJobs struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*job.Job
	// onStatus runs before every Status read, to simulate concurrent changes.
	onStatus func(id int64)
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: map[int64]*job.Job{}}
}

func (m *memJobs) put(j *job.Job) *job.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	j.ID = m.nextID
	cp := *j
	m.jobs[j.ID] = &cp
	return j
}

func (m *memJobs) get(id int64) *job.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.jobs[id]
	return &cp
}

func (m *memJobs) setStatus(id int64, s job.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = s
}

func (m *memJobs) CreateWithinLimit(_ context.Context, j *job.Job, maxActive int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if maxActive >= 0 && m.active(j.WorkspaceID) >= maxActive {
		return xerrors.ErrQuotaExceeded
	}
	j.Status = job.StatusQueued
	m.nextID++
	j.ID = m.nextID
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *memJobs) FindByID(_ context.Context, id int64) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobs) List(_ context.Context, f *job.ListFilters) ([]*job.Job, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*job.Job
	for _, j := range m.jobs {
		if j.WorkspaceID == f.WorkspaceID {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memJobs) active(wsID int64) int64 {
	var n int64
	for _, j := range m.jobs {
		if j.WorkspaceID == wsID && (j.Status == job.StatusQueued || j.Status == job.StatusProcessing) {
			n++
		}
	}
	return n
}

func (m *memJobs) transition(id int64, next job.Status, from ...job.Status) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return false
	}
	for _, f := range from {
		if j.Status == f {
			j.Status = next
			return true
		}
	}
	return false
}

func (m *memJobs) Cancel(_ context.Context, id int64) (bool, error) {
	return m.transition(id, job.StatusCancelled, job.StatusQueued, job.StatusProcessing), nil
}

func (m *memJobs) ResetForRetry(_ context.Context, id int64) (bool, error) {
	if !m.transition(id, job.StatusQueued, job.StatusFailed) {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	j.Results = job.Results{}
	j.ErrorMessage = nil
	j.Progress = 0
	j.Attempts = 0
	return true, nil
}

func (m *memJobs) Delete(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || !j.Status.Terminal() {
		return false, nil
	}
	delete(m.jobs, id)
	return true, nil
}

func (m *memJobs) Status(_ context.Context, id int64) (job.Status, error) {
	if m.onStatus != nil {
		m.onStatus(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id].Status, nil
}

func (m *memJobs) processing(id int64, fn func(j *job.Job)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	if j.Status != job.StatusProcessing {
		return false
	}
	fn(j)
	return true
}

func (m *memJobs) UpdateProgress(_ context.Context, id int64, progress int) (bool, error) {
	return m.processing(id, func(j *job.Job) {
		if progress > j.Progress {
			j.Progress = progress
		}
	}), nil
}

func (m *memJobs) SaveResults(_ context.Context, id int64, r job.Results, progress int) (bool, error) {
	return m.processing(id, func(j *job.Job) {
		j.Results = r
		if progress > j.Progress {
			j.Progress = progress
		}
	}), nil
}

func (m *memJobs) Complete(_ context.Context, id int64) (bool, error) {
	return m.processing(id, func(j *job.Job) {
		j.Status = job.StatusCompleted
		j.Progress = 100
	}), nil
}

func (m *memJobs) Fail(_ context.Context, id int64, msg string) (bool, error) {
	return m.processing(id, func(j *job.Job) {
		j.Status = job.StatusFailed
		j.ErrorMessage = &msg
	}), nil
}

func (m *memJobs) Claim(_ context.Context, _ string, _ time.Duration) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := int64(1); id <= m.nextID; id++ {
		j, ok := m.jobs[id]
		if ok && j.Status == job.StatusQueued {
			j.Status = job.StatusProcessing
			j.Attempts++
			cp := *j
			return &cp, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (m *memJobs) ExtendLease(_ context.Context, id int64, _ string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id].Status == job.StatusProcessing, nil
}

type memUploads map[string]*upload.Upload

func (m memUploads) FindByID(_ context.Context, id string) (*upload.Upload, error) {
	u, ok := m[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return u, nil
}

func (m memUploads) Open(_ context.Context, u *upload.Upload) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("AUDIO:" + u.ID)), nil
}

type memberStub map[int64]workspace.Role

func (m memberStub) FindMembership(_ context.Context, wsID, userID int64) (*workspace.Membership, error) {
	role, ok := m[userID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return &workspace.Membership{WorkspaceID: wsID, UserID: userID, Role: role}, nil
}

type quotaStub struct {
	mu       sync.Mutex
	limits   plan.PlanLimits
	used     map[plan.ResourceType]int64
	metered  map[plan.ResourceType]int64
	released map[plan.ResourceType]int64
}

func newQuotaStub(limits plan.PlanLimits) *quotaStub {
	return &quotaStub{
		limits:   limits,
		used:     map[plan.ResourceType]int64{},
		metered:  map[plan.ResourceType]int64{},
		released: map[plan.ResourceType]int64{},
	}
}

func (q *quotaStub) Limits(context.Context, int64) (*plan.EffectivePlan, error) {
	return &plan.EffectivePlan{Limits: q.limits}, nil
}

func (q *quotaStub) Consume(_ context.Context, _ int64, r plan.ResourceType, delta int64) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	limit, _ := q.limits.LimitFor(r)
	if limit != plan.Unlimited && q.used[r]+delta > limit {
		return 0, xerrors.ErrQuotaExceeded
	}
	q.used[r] += delta
	return q.used[r], nil
}

func (q *quotaStub) Release(_ context.Context, _ int64, r plan.ResourceType, delta int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.used[r] -= delta
	q.released[r] += delta
	return nil
}

func (q *quotaStub) Meter(_ context.Context, _ int64, r plan.ResourceType, delta int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.metered[r] += delta
}

type fakeProcessor struct {
	mu           sync.Mutex
	calls        []string
	transcript   string
	duration     float64
	summarizeErr error
	onTranscribe func()
}

func (f *fakeProcessor) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeProcessor) Transcribe(_ context.Context, _ string, audio io.Reader) (*job.Transcription, error) {
	f.record("transcribe")
	if _, err := io.ReadAll(audio); err != nil {
		return nil, err
	}
	if f.onTranscribe != nil {
		f.onTranscribe()
	}
	return &job.Transcription{Text: f.transcript, DurationSeconds: f.duration}, nil
}

func (f *fakeProcessor) Summarize(context.Context, string) (*job.Summary, error) {
	f.record("summarize")
	if f.summarizeErr != nil {
		return nil, f.summarizeErr
	}
	return &job.Summary{Text: "summary", TokensUsed: 40}, nil
}

func (f *fakeProcessor) Analyze(context.Context, string) (*job.Analysis, error) {
	f.record("analyze")
	return &job.Analysis{Sentiment: "neutral", TokensUsed: 25}, nil
}

type recordedEvent struct {
	userID int64
	event  wstypes.EventType
	data   *job.ProgressEvent
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) PublishToUser(userID int64, event wstypes.EventType, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, _ := data.(*job.ProgressEvent)
	r.events = append(r.events, recordedEvent{userID: userID, event: event, data: ev})
}

func (r *recorder) last() recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return recordedEvent{}
	}
	return r.events[len(r.events)-1]
}

type stubSpeaker struct{ err error }

func (s stubSpeaker) Speech(context.Context, string) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader("MP3")), nil
}

var errProvider = errors.New("provider exploded")
