package util

import (
	"fmt"

	"github.com/graphloom/loom/pkg/common"
)

// RunStepProgress breaks a run down by pipeline stage, each entry as a
// "done/total" style counter for status responses.
type RunStepProgress struct {
	Pending    string `json:"pending,omitempty"`
	Segmenting string `json:"segmenting,omitempty"`
	Extracting string `json:"extracting,omitempty"`
	Resolving  string `json:"resolving,omitempty"`
	Verifying  string `json:"verifying,omitempty"`
	Writing    string `json:"writing,omitempty"`
	Done       string `json:"done,omitempty"`
	Failed     string `json:"failed,omitempty"`
}

// RunProgress is the computed progress view of a run.
type RunProgress struct {
	Step       *RunStepProgress `json:"step,omitempty"`
	Percentage int32            `json:"percentage"`
}

// stageWeights orders the document stages for weighted progress. Terminal
// stages count as full weight so failed documents do not freeze the bar.
var stageWeights = map[common.DocumentStage]int64{
	common.StagePending:    0,
	common.StageSegmenting: 1,
	common.StageExtracting: 2,
	common.StageResolving:  3,
	common.StageVerifying:  4,
	common.StageWriting:    5,
	common.StageDone:       6,
	common.StageFailed:     6,
}

const stageWeightMax int64 = 6

// BuildRunProgress computes per-stage counters and a weighted percentage
// from the run's document statuses.
func BuildRunProgress(documents []common.DocumentStatus) RunProgress {
	total := int64(len(documents))
	if total == 0 {
		return RunProgress{}
	}

	counts := make(map[common.DocumentStage]int64)
	var completedWork int64
	for _, doc := range documents {
		counts[doc.Stage]++
		completedWork += stageWeights[doc.Stage]
	}

	step := RunStepProgress{}
	hasStep := false
	set := func(dst *string, stage common.DocumentStage) {
		if counts[stage] > 0 {
			*dst = fmt.Sprintf("%d/%d", counts[stage], total)
			hasStep = true
		}
	}
	set(&step.Pending, common.StagePending)
	set(&step.Segmenting, common.StageSegmenting)
	set(&step.Extracting, common.StageExtracting)
	set(&step.Resolving, common.StageResolving)
	set(&step.Verifying, common.StageVerifying)
	set(&step.Writing, common.StageWriting)
	set(&step.Done, common.StageDone)
	set(&step.Failed, common.StageFailed)

	progress := RunProgress{
		Percentage: int32(completedWork * 100 / (total * stageWeightMax)),
	}
	if hasStep {
		progress.Step = &step
	}
	return progress
}
