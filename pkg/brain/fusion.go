package brain

import (
	"fmt"
	"sort"
)

const (
	// ConsensusBoost multiplies the fused confidence when all outputs agree.
	ConsensusBoost = 1.5
	// UnroutedBaseWeight is the base weight of a module absent from the routing list.
	UnroutedBaseWeight = 0.5
)

// Fuse combines completed invocations into a FusedResult.
//
// Base weight is 1/(p+1) for a module at position p of routing, UnroutedBaseWeight
// otherwise; it is scaled by the module's confidence and normalized to sum to 1,
// falling back to uniform weights when every scaled weight is zero. Dropped
// invocations are listed in Dropped. When nothing completed, the partial
// result is returned with ErrNoModulesAvailable.
func Fuse(task string, routing []ModuleID, invocations []*Invocation) (*FusedResult, error) {
	fused := &FusedResult{
		Task:        task,
		SystemsUsed: []ModuleID{},
		Weights:     make(map[ModuleID]float64),
		AllResults:  make(map[ModuleID]*ModuleResult),
		Dropped:     []DroppedModule{},
	}

	var survivors []*ModuleResult
	for _, inv := range invocations {
		switch inv.Status {
		case InvocationCompleted:
			survivors = append(survivors, inv.Result)
		default:
			fused.Dropped = append(fused.Dropped, DroppedModule{Module: inv.Module, Reason: DropReason(inv.Err)})
		}
	}

	if len(survivors) == 0 {
		return fused, fmt.Errorf("fuse %s: %w", task, ErrNoModulesAvailable)
	}

	rank := make(map[ModuleID]int, len(routing)+len(survivors))
	for p, id := range routing {
		if _, seen := rank[id]; !seen {
			rank[id] = p
		}
	}
	for i, r := range survivors {
		if _, ok := rank[r.Module]; !ok {
			rank[r.Module] = len(routing) + i
		}
	}

	raw := make([]float64, len(survivors))
	var total float64
	for i, r := range survivors {
		base := UnroutedBaseWeight
		if p, ok := rank[r.Module]; ok && p < len(routing) {
			base = 1.0 / float64(p+1)
		}
		raw[i] = base * r.Confidence
		total += raw[i]
	}

	for i, r := range survivors {
		w := 1.0 / float64(len(survivors))
		if total > 0 {
			w = raw[i] / total
		}
		fused.Weights[r.Module] = w
		fused.SystemsUsed = append(fused.SystemsUsed, r.Module)
		fused.AllResults[r.Module] = r
		fused.CombinedConfidence += w * r.Confidence
	}

	fused.Consensus = consensus(survivors)
	if fused.Consensus {
		fused.CombinedConfidence *= ConsensusBoost
	}
	fused.CombinedConfidence = Clamp01(fused.CombinedConfidence)

	ordered := append([]*ModuleResult(nil), survivors...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return rank[ordered[i].Module] < rank[ordered[j].Module]
	})
	primary := ordered[0]
	for _, r := range ordered[1:] {
		if fused.Weights[r.Module] > fused.Weights[primary.Module] {
			primary = r
		}
	}
	fused.PrimaryModule = primary.Module
	fused.PrimaryResult = primary

	return fused, nil
}

// consensus is true when there are at least two results and all stringify equal.
func consensus(results []*ModuleResult) bool {
	if len(results) < 2 {
		return false
	}
	first := results[0].OutputString()
	for _, r := range results[1:] {
		if r.OutputString() != first {
			return false
		}
	}
	return true
}
