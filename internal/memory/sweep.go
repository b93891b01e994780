package memory

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"
)

// SweepResult reports what a decay sweep changed.
type SweepResult struct {
	Users         int
	TopicsDropped int
}

// DecaySweep drops topics whose decayed relevance has fallen below
// MinTopicRelevance for every stored memory. Surviving topics keep their
// stored relevance so repeated sweeps never compound decay.
func DecaySweep(ctx context.Context, engine *Engine, rate float64, now time.Time) (SweepResult, error) {
	records, err := engine.ListMemories(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("decay sweep: %w", err)
	}

	var res SweepResult
	for _, rec := range records {
		mem := MigrateMemory(rec.Context, rec.UserID, now).Clone()
		dropped := pruneDecayed(mem, now, rate)
		if dropped == 0 {
			continue
		}
		if _, err := engine.PutMemory(ctx, rec.UserID, mem); err != nil {
			log.Printf("[memory] decay sweep write %s error: %v", rec.UserID, err)
			continue
		}
		res.Users++
		res.TopicsDropped += dropped
	}
	return res, nil
}

func pruneDecayed(mem *StructuredMemory, now time.Time, rate float64) int {
	dropped := 0
	for name, topic := range mem.Topics {
		if topic.Relevance*math.Pow(rate, daysSince(topic.LastDiscussed, now)) < MinTopicRelevance {
			delete(mem.Topics, name)
			dropped++
		}
	}
	return dropped
}
