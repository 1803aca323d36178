package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ploinky/ploinky/internal/mcpclient"
	"github.com/ploinky/ploinky/internal/routingtable"
)

// AnnotatedTool is an mcpclient.Tool with the router's own
// annotations.router.agent attached.
type AnnotatedTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema json.RawMessage        `json:"inputSchema,omitempty"`
	Annotations map[string]interface{} `json:"annotations,omitempty"`
}

// AggregationResult is the outcome of aggregating tools/list (or
// resources/list) across every live, non-disabled agent.
type AggregationResult struct {
	Tools       []AnnotatedTool
	ByAgent     map[string][]AnnotatedTool
	EmptyAgents []string
	Errors      map[string]string // agentName -> summarized error
}

// liveAgents enumerates RTbl entries that are not disabled and have a
// finite hostPort.
func liveAgents(rtbl *routingtable.Table) map[string]string {
	out := make(map[string]string)
	for agentName, route := range rtbl.List() {
		if route.Disabled || route.HostPort <= 0 {
			continue
		}
		out[agentName] = fmt.Sprintf("http://127.0.0.1:%d/mcp", route.HostPort)
	}
	return out
}

// AggregateTools runs listTools() against every live agent in parallel.
func AggregateTools(ctx context.Context, rtbl *routingtable.Table, timeout time.Duration) AggregationResult {
	agents := liveAgents(rtbl)

	type outcome struct {
		agentName string
		tools     []mcpclient.Tool
		err       error
	}

	results := make(chan outcome, len(agents))
	var wg sync.WaitGroup
	for agentName, baseURL := range agents {
		wg.Add(1)
		go func(agentName, baseURL string) {
			defer wg.Done()
			client := mcpclient.New(baseURL, timeout)
			defer client.Close(context.Background())

			if err := client.Initialize(ctx); err != nil {
				results <- outcome{agentName: agentName, err: err}
				return
			}
			tools, err := client.ListTools(ctx)
			results <- outcome{agentName: agentName, tools: tools, err: err}
		}(agentName, baseURL)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	agg := AggregationResult{
		ByAgent: make(map[string][]AnnotatedTool),
		Errors:  make(map[string]string),
	}
	for res := range results {
		if res.err != nil {
			agg.Errors[res.agentName] = summarizeError(res.err)
			continue
		}
		if len(res.tools) == 0 {
			agg.EmptyAgents = append(agg.EmptyAgents, res.agentName)
		}
		annotated := make([]AnnotatedTool, 0, len(res.tools))
		for _, tool := range res.tools {
			annotated = append(annotated, annotateTool(tool, res.agentName))
		}
		agg.ByAgent[res.agentName] = annotated
		agg.Tools = append(agg.Tools, annotated...)
	}
	return agg
}

func annotateTool(tool mcpclient.Tool, agentName string) AnnotatedTool {
	annotations := make(map[string]interface{}, len(tool.Annotations)+1)
	for k, v := range tool.Annotations {
		annotations[k] = v
	}
	annotations["router"] = map[string]interface{}{"agent": agentName}
	return AnnotatedTool{
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: tool.InputSchema,
		Annotations: annotations,
	}
}

// summarizeError never leaks raw upstream error text verbatim into the
// aggregated response.
func summarizeError(err error) string {
	return "agent request failed: " + shortenError(err.Error())
}

func shortenError(s string) string {
	const maxLen = 200
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// ResolveToolAgent implements the tie-breaking rule for tools/call:
// explicit params.agent wins; otherwise exactly one
// exposing agent wins; otherwise ambiguous.
func ResolveToolAgent(agg AggregationResult, toolName, explicitAgent string) (agent string, ambiguous []string, found bool) {
	if explicitAgent != "" {
		return explicitAgent, nil, true
	}
	var matches []string
	for agentName, tools := range agg.ByAgent {
		for _, t := range tools {
			if t.Name == toolName {
				matches = append(matches, agentName)
				break
			}
		}
	}
	switch len(matches) {
	case 0:
		return "", nil, false
	case 1:
		return matches[0], nil, true
	default:
		return "", matches, false
	}
}
