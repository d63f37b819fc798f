package agent

import (
	"fmt"
	"strings"

	"github.com/zen-systems/careerflow/pkg/normalize"
	"github.com/zen-systems/careerflow/pkg/tools"
)

type observation struct {
	tool  string
	query string
	text  string
}

func planPrompt(task string, attached []tools.Tool) string {
	var sb strings.Builder
	sb.WriteString("You will complete the task below. Before answering you may use these tools:\n")
	for _, t := range attached {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name(), t.Description())
	}
	fmt.Fprintf(&sb, "\nTask:\n%s\n\n", task)
	fmt.Fprintf(&sb, "Reply with a JSON array of at most %d queries per tool. ", MaxQueriesPerTool)
	sb.WriteString(`Each element is an object {"tool": "<tool name>", "query": "<search text>"}. Output only the array.`)
	return sb.String()
}

// parsePlan reads tool queries from a planning reply. Plain string elements
// go to the only attached tool. Unknown tools and blank queries are dropped.
func parsePlan(reply string, attached []tools.Tool) map[string][]string {
	plan := make(map[string][]string)
	value, err := normalize.Normalize(reply, normalize.ShapeArray)
	if err != nil {
		return plan
	}
	items, ok := value.Data.([]any)
	if !ok {
		return plan
	}

	known := make(map[string]bool, len(attached))
	for _, t := range attached {
		known[t.Name()] = true
	}

	add := func(tool, query string) {
		query = strings.TrimSpace(query)
		if !known[tool] || query == "" || len(plan[tool]) >= MaxQueriesPerTool {
			return
		}
		plan[tool] = append(plan[tool], query)
	}

	for _, item := range items {
		switch v := item.(type) {
		case string:
			if len(attached) == 1 {
				add(attached[0].Name(), v)
			}
		case map[string]any:
			tool, _ := v["tool"].(string)
			query, _ := v["query"].(string)
			if tool == "" && len(attached) == 1 {
				tool = attached[0].Name()
			}
			add(tool, query)
		}
	}
	return plan
}

func withObservations(task string, obs []observation) string {
	if len(obs) == 0 {
		return task
	}
	var sb strings.Builder
	sb.WriteString(task)
	sb.WriteString("\n\nTool observations:\n")
	for _, o := range obs {
		fmt.Fprintf(&sb, "\n[%s] %s\n%s\n", o.tool, o.query, o.text)
	}
	sb.WriteString("\nUse the observations above to complete the task.")
	return sb.String()
}
