package ollama

import "github.com/graphloom/loom/pkg/ai"

// ResetMetrics clears accumulated token and timing metrics.
func (c *GraphOllamaClient) ResetMetrics() {
	c.metrics.Reset()
}

// GetMetrics returns token usage and timing accumulated since the last
// reset.
func (c *GraphOllamaClient) GetMetrics() ai.ModelMetrics {
	return c.metrics.Snapshot()
}

func (c *GraphOllamaClient) modifyMetrics(m ai.ModelMetrics) {
	c.metrics.Record(m)
}
