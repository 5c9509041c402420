package types

import "time"

// RunState is a pipeline state machine state.
type RunState string

const (
	RunStatePending     RunState = "pending"
	RunStateSampling    RunState = "sampling"
	RunStateBatching    RunState = "batching"
	RunStateDescribing  RunState = "describing"
	RunStateAggregating RunState = "aggregating"
	RunStateGenerating  RunState = "generating"
	RunStateDone        RunState = "done"
	RunStateFailed      RunState = "failed"
)

// Terminal reports whether the state ends a run.
func (s RunState) Terminal() bool {
	return s == RunStateDone || s == RunStateFailed
}

// Stage progress weights. Describing progress is interpolated between
// ProgressBatching and ProgressDescribed by finished batch count.
const (
	ProgressSampling  = 0
	ProgressBatching  = 20
	ProgressDescribed = 60
	ProgressGenerated = 80
	ProgressDone      = 100
)

// Run is one end-to-end pipeline execution for one video.
type Run struct {
	ID             string   `json:"id"`
	VideoID        string   `json:"video_id,omitempty"`
	VisionProvider string   `json:"vision_provider"`
	TextProvider   string   `json:"text_provider"`
	State          RunState `json:"state"`
	Progress       int      `json:"progress"`
	TotalBatches   int      `json:"total_batches,omitempty"`
	DoneBatches    int      `json:"done_batches,omitempty"`
	FailedBatches  []int    `json:"failed_batches,omitempty"`
	FailureReason  string   `json:"failure_reason,omitempty"`
	Script         string   `json:"script,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DescribingProgress maps finished/total batches onto the Describing
// progress band.
func DescribingProgress(done, total int) int {
	if total <= 0 {
		return ProgressBatching
	}
	span := ProgressDescribed - ProgressBatching
	return ProgressBatching + span*done/total
}
