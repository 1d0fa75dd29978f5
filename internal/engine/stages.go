package engine

import (
	"context"
	"sync"

	"github.com/soulo-online/insight/internal/plan"
)

// runStages drives the stage schedule: the sorted distinct stage set runs in
// strict ascending order, and every sub-question of a stage must settle
// before the next stage starts. Sub-questions within a stage fan out
// concurrently with no relative ordering guarantee. Results come back in
// original plan order regardless of stage grouping.
func (e *Engine) runStages(ctx context.Context, p *plan.QueryPlan, identity string, planRange *plan.TimeRange) []SubQuestionResult {
	results := make([]SubQuestionResult, len(p.SubQuestions))

	for _, stage := range p.Stages() {
		var indices []int
		for i, sq := range p.SubQuestions {
			if sq.ExecutionStage == stage {
				indices = append(indices, i)
			}
		}

		var wg sync.WaitGroup
		for _, i := range indices {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = e.runSubQuestion(ctx, p.SubQuestions[i], planRange, identity)
			}(i)
		}
		wg.Wait()

		if e.metrics != nil {
			e.metrics.ObserveStage(len(indices))
		}
	}
	return results
}
