package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/graphloom/loom/internal/util"
	"github.com/graphloom/loom/pkg/ai"
	"github.com/graphloom/loom/pkg/logger"
)

// mergeDescriptions folds the descriptions extraction produced into the
// surviving mutations. A node seen once with no prior description keeps
// the extracted text as-is; everything else goes through a merge prompt.
// Merge failures degrade to joined segments so a description is never
// lost to a capability outage.
func (p *Pipeline) mergeDescriptions(ctx context.Context, r *docResolver, outcome verifyOutcome) {
	for _, id := range r.nodeOrder {
		if _, ok := outcome.rejectedNodes[id]; ok {
			continue
		}
		segments := dedupeSegments(r.nodeDescs[id])
		if len(segments) == 0 {
			continue
		}
		m := r.pendingNodes[id]
		m.Node.Description = p.mergedDescription(ctx, m.Node.Name, m.Node.Description, segments)
	}

	for _, key := range r.edgeOrder {
		if _, ok := outcome.rejectedEdges[key]; ok {
			continue
		}
		segments := dedupeSegments(r.edgeDescs[key])
		if len(segments) == 0 {
			continue
		}
		m := r.pendingEdges[key]
		label := r.nodeName(m.Edge.SourceID) + " -> " + r.nodeName(m.Edge.TargetID)
		m.Edge.Description = p.mergedDescription(ctx, label, m.Edge.Description, segments)
	}
}

func (p *Pipeline) mergedDescription(ctx context.Context, name, current string, segments []string) string {
	if current != "" {
		fresh := make([]string, 0, len(segments))
		for _, segment := range segments {
			if !strings.Contains(current, segment) {
				fresh = append(fresh, segment)
			}
		}
		segments = fresh
	}
	if len(segments) == 0 {
		return current
	}
	if current == "" && len(segments) == 1 {
		return cleanDescription(segments[0])
	}

	listed := "- " + strings.Join(segments, "\n- ")
	var prompt string
	if current == "" {
		prompt = fmt.Sprintf(ai.DescPrompt, name, listed)
	} else {
		prompt = fmt.Sprintf(ai.DescUpdatePrompt, name, current, listed)
	}

	merged, err := util.RetryWithContext(ctx, p.maxRetries, func(rCtx context.Context) (string, error) {
		return p.ai.GenerateCompletion(rCtx, prompt)
	})
	if err != nil {
		logger.Warn("[Describe][Merge] description merge degraded",
			"name", name, "error", err)
		if current != "" {
			segments = append([]string{current}, segments...)
		}
		return cleanDescription(strings.Join(segments, " "))
	}

	return cleanDescription(merged)
}

func (r *docResolver) nodeName(id string) string {
	if node := r.nodeState(id); node != nil {
		return node.Name
	}
	return id
}

// cleanDescription collapses a model response to single-spaced text.
func cleanDescription(description string) string {
	return strings.Join(strings.Fields(description), " ")
}

func dedupeSegments(segments []string) []string {
	if len(segments) < 2 {
		return segments
	}
	seen := make(map[string]struct{}, len(segments))
	out := make([]string, 0, len(segments))
	for _, segment := range segments {
		if _, ok := seen[segment]; ok {
			continue
		}
		seen[segment] = struct{}{}
		out = append(out, segment)
	}
	return out
}
