package activity

import (
	"sort"

	"go.uber.org/zap"
)

// Processor is a post-read hook. Hooks run in ascending priority order after
// every read and may attach transient values; a hook failure is logged and
// never aborts the read or the remaining hooks.
type Processor interface {
	Priority() int
	ProcessActivity(activity *Activity) error
	ProcessComment(comment *Comment) error
}

type processorChain struct {
	processors []Processor
}

func (c *processorChain) register(processor Processor) {
	c.processors = append(c.processors, processor)
	sort.SliceStable(c.processors, func(i, j int) bool {
		return c.processors[i].Priority() < c.processors[j].Priority()
	})
}

func (c *processorChain) runActivity(activity *Activity, logger *zap.Logger) {
	for _, processor := range c.processors {
		if err := processor.ProcessActivity(activity); err != nil {
			logger.Warn("activity processing failed",
				zap.String("activity_id", activity.ID),
				zap.Int("processor_priority", processor.Priority()),
				zap.Error(err))
		}
	}
}

func (c *processorChain) runComment(comment *Comment, logger *zap.Logger) {
	for _, processor := range c.processors {
		if err := processor.ProcessComment(comment); err != nil {
			logger.Warn("comment processing failed",
				zap.String("comment_id", comment.ID),
				zap.Int("processor_priority", processor.Priority()),
				zap.Error(err))
		}
	}
}
