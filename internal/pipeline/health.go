// SPDX-License-Identifier: MIT
package pipeline

// defaultUnhealthyAfter is the consecutive-failure count after which the
// pipeline reports unhealthy, and the success streak required to clear it.
const defaultUnhealthyAfter = 5

// StageHealth is the per-stage failure record.
type StageHealth struct {
	Name        string
	Total       uint64 // Failures since start.
	Consecutive uint64 // Current failure streak.
	Bypassed    uint64 // Ticks this stage was bypassed.
}

// PipelineHealth tracks per-stage and pipeline-wide failures. It is owned by
// the orchestrator and updated only inside the tick; external observers get a
// copy via Orchestrator.Health. A failing tick never aborts the loop; health
// is observable degradation, not a fatal condition.
type PipelineHealth struct {
	stages []StageHealth
	index  map[string]int

	TotalFailures  uint64
	Consecutive    uint64 // Consecutive ticks with at least one failure.
	LastStage      string
	LastError      string
	unhealthy      bool
	successStreak  uint64
	unhealthyAfter uint64
}

func newPipelineHealth(stageNames []string) *PipelineHealth {
	h := &PipelineHealth{
		stages:         make([]StageHealth, len(stageNames)),
		index:          make(map[string]int, len(stageNames)),
		unhealthyAfter: defaultUnhealthyAfter,
	}
	for i, name := range stageNames {
		h.stages[i] = StageHealth{Name: name}
		h.index[name] = i
	}
	return h
}

// recordFailure notes one stage failure within the current tick.
func (h *PipelineHealth) recordFailure(stage string, err error, bypassed bool) {
	if i, ok := h.index[stage]; ok {
		h.stages[i].Total++
		h.stages[i].Consecutive++
		if bypassed {
			h.stages[i].Bypassed++
		}
	}
	h.TotalFailures++
	h.LastStage = stage
	if err != nil {
		h.LastError = err.Error()
	}
}

// recordStageSuccess clears a stage's failure streak.
func (h *PipelineHealth) recordStageSuccess(stage string) {
	if i, ok := h.index[stage]; ok {
		h.stages[i].Consecutive = 0
	}
}

// finishTick folds the tick outcome into the pipeline-wide state. Unhealthy
// engages after the configured failure streak and clears only after an
// equally long run of clean ticks, so a flapping stage cannot strobe the
// health signal.
func (h *PipelineHealth) finishTick(failed bool) {
	if failed {
		h.Consecutive++
		h.successStreak = 0
		if h.Consecutive >= h.unhealthyAfter {
			h.unhealthy = true
		}
		return
	}
	h.successStreak++
	h.Consecutive = 0
	if h.unhealthy && h.successStreak >= h.unhealthyAfter {
		h.unhealthy = false
	}
}

// HealthSnapshot is the externally visible copy of the health state.
type HealthSnapshot struct {
	Healthy       bool
	TotalFailures uint64
	Consecutive   uint64
	LastStage     string
	LastError     string
	Stages        []StageHealth
}

func (h *PipelineHealth) snapshot() HealthSnapshot {
	return HealthSnapshot{
		Healthy:       !h.unhealthy,
		TotalFailures: h.TotalFailures,
		Consecutive:   h.Consecutive,
		LastStage:     h.LastStage,
		LastError:     h.LastError,
		Stages:        append([]StageHealth(nil), h.stages...),
	}
}
