package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"mailcrypt-service/internal/domain"
)

// GenerationJob はバックグラウンドで実行される鍵生成ジョブ。
type GenerationJob struct {
	id        string
	accountID string
	kind      domain.JobKind
	createdAt time.Time
	done      chan struct{}
	cancel    context.CancelFunc

	mu         sync.Mutex
	status     domain.JobStatus
	record     *domain.KeyRecord
	err        error
	finishedAt *time.Time
}

func newGenerationJob(accountID string, kind domain.JobKind, cancel context.CancelFunc) *GenerationJob {
	return &GenerationJob{
		id:        uuid.New().String(),
		accountID: accountID,
		kind:      kind,
		createdAt: time.Now().UTC(),
		done:      make(chan struct{}),
		cancel:    cancel,
		status:    domain.JobStatusPending,
	}
}

// ID はジョブIDを返す。
func (j *GenerationJob) ID() string { return j.id }

// AccountID は対象アカウントIDを返す。
func (j *GenerationJob) AccountID() string { return j.accountID }

// Done はジョブ完了時に閉じられるチャネルを返す。
func (j *GenerationJob) Done() <-chan struct{} { return j.done }

// Cancel はジョブを中断する。完了済みの場合は何もしない。
func (j *GenerationJob) Cancel() { j.cancel() }

// Wait はジョブの完了を待ち、保存された鍵レコードまたはエラーを返す。
// ctx が先に終わった場合はジョブを中断せずに ctx のエラーを返す。
func (j *GenerationJob) Wait(ctx context.Context) (*domain.KeyRecord, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.record, j.err
}

// Snapshot はジョブの現在の状態を返す。
func (j *GenerationJob) Snapshot() domain.JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return domain.JobSnapshot{
		ID:         j.id,
		AccountID:  j.accountID,
		Kind:       j.kind,
		Status:     j.status,
		Record:     j.record,
		Err:        j.err,
		CreatedAt:  j.createdAt,
		FinishedAt: j.finishedAt,
	}
}

func (j *GenerationJob) markRunning() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = domain.JobStatusRunning
}

func (j *GenerationJob) finish(record *domain.KeyRecord, err error) {
	j.mu.Lock()
	now := time.Now().UTC()
	j.finishedAt = &now
	j.record = record
	j.err = err
	if err != nil {
		j.status = domain.JobStatusFailed
	} else {
		j.status = domain.JobStatusSucceeded
	}
	j.mu.Unlock()

	j.cancel()
	close(j.done)
}

func (j *GenerationJob) finishedBefore(t time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finishedAt != nil && j.finishedAt.Before(t)
}

// JobTracker は鍵生成ジョブをIDとアカウントで追跡する。
// 完了したジョブは retention の間だけ照会できる。
type JobTracker struct {
	mu        sync.Mutex
	byID      map[string]*GenerationJob
	inFlight  map[string]*GenerationJob
	retention time.Duration
}

// NewJobTracker は新しいJobTrackerを生成する。
func NewJobTracker(retention time.Duration) *JobTracker {
	return &JobTracker{
		byID:      make(map[string]*GenerationJob),
		inFlight:  make(map[string]*GenerationJob),
		retention: retention,
	}
}

// startOrJoin はアカウントに実行中のジョブがあればそれを返し、無ければ start で作成して登録する。
// 2番目の戻り値は新規に作成したかどうか。
func (t *JobTracker) startOrJoin(accountID string, start func() *GenerationJob) (*GenerationJob, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if job, ok := t.inFlight[accountID]; ok {
		return job, false
	}

	t.prune()
	job := start()
	t.byID[job.id] = job
	t.inFlight[accountID] = job
	return job, true
}

// complete はアカウントの実行中ジョブの登録を外す。
func (t *JobTracker) complete(job *GenerationJob) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inFlight[job.accountID] == job {
		delete(t.inFlight, job.accountID)
	}
}

// InFlight はアカウントの実行中ジョブを返す。
func (t *JobTracker) InFlight(accountID string) (*GenerationJob, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.inFlight[accountID]
	return job, ok
}

// Get はIDでジョブを取得する。
func (t *JobTracker) Get(id string) (*GenerationJob, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.byID[id]
	return job, ok
}

// prune は保持期間を過ぎた完了済みジョブを削除する。t.mu を保持して呼ぶこと。
func (t *JobTracker) prune() {
	cutoff := time.Now().Add(-t.retention)
	for id, job := range t.byID {
		if job.finishedBefore(cutoff) {
			delete(t.byID, id)
		}
	}
}
