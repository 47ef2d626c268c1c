package domain

import "time"

// JobKind は鍵生成ジョブの種別を表す。
type JobKind string

const (
	JobKindGenerate   JobKind = "generate"
	JobKindRegenerate JobKind = "regenerate"
)

// JobStatus は鍵生成ジョブの状態を表す。
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// JobSnapshot は鍵生成ジョブのある時点の状態を表す。
type JobSnapshot struct {
	ID         string
	AccountID  string
	Kind       JobKind
	Status     JobStatus
	Record     *KeyRecord
	Err        error
	CreatedAt  time.Time
	FinishedAt *time.Time
}
