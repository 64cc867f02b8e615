package openai

import "github.com/graphloom/loom/pkg/ai"

// ResetMetrics clears accumulated token and timing metrics.
func (c *GraphOpenAIClient) ResetMetrics() {
	c.metrics.Reset()
}

// GetMetrics returns token usage and timing accumulated since the last
// reset.
func (c *GraphOpenAIClient) GetMetrics() ai.ModelMetrics {
	return c.metrics.Snapshot()
}

func (c *GraphOpenAIClient) modifyMetrics(m ai.ModelMetrics) {
	c.metrics.Record(m)
}
