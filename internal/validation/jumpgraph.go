package validation

import (
	"fmt"

	"github.com/canvass/canvass/pkg/schema"
)

// validateJumpGraph runs cycle analysis over the navigation graph: the
// sequential flow edges plus the authored jumps. Sequential flow alone is
// acyclic, so any cycle involves at least one jump. A cycle reachable
// through unconditional jumps only is an inescapable loop and is an error;
// a cycle that needs a conditional jump can terminate once the condition
// stops holding, so it is reported as a warning.
func validateJumpGraph(def *schema.SurveyDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	base := buildFlowEdges(def)

	unconditional := cloneEdges(base)
	full := cloneEdges(base)
	for _, j := range def.Jumps {
		from, to, ok := jumpEdge(&j)
		if !ok {
			continue
		}
		full[from] = append(full[from], to)
		if j.Condition == "" {
			unconditional[from] = append(unconditional[from], to)
		}
	}

	if hasCycle(unconditional) {
		result.AddError("jumps", schema.ErrCodeValidation,
			"unconditional jumps form a cycle the respondent cannot leave")
		return result
	}
	if hasCycle(full) {
		result.AddWarning("jumps", schema.ErrCodeValidation,
			"conditional jumps can form a cycle; ensure the conditions eventually stop holding")
	}

	return result
}

// buildFlowEdges returns the sequential navigation edges: each question to
// its successor on the page, the last question of a page to the next page,
// and each page to its first question.
func buildFlowEdges(def *schema.SurveyDefinition) map[string][]string {
	edges := make(map[string][]string)
	for pi, page := range def.Pages {
		pn := pageNode(pi)
		if len(page.Questions) > 0 {
			edges[pn] = append(edges[pn], questionNode(page.Questions[0].VariableName))
		}
		for qi, q := range page.Questions {
			node := questionNode(q.VariableName)
			if qi+1 < len(page.Questions) {
				edges[node] = append(edges[node], questionNode(page.Questions[qi+1].VariableName))
			} else if pi+1 < len(def.Pages) {
				edges[node] = append(edges[node], pageNode(pi+1))
			}
		}
	}
	return edges
}

func pageNode(index int) string    { return fmt.Sprintf("page:%d", index) }
func questionNode(v string) string { return "question:" + v }

// jumpEdge maps a jump definition to a graph edge. Jumps with unresolved
// endpoints were already rejected by semantic analysis.
func jumpEdge(j *schema.JumpDefinition) (from, to string, ok bool) {
	switch {
	case j.FromQuestion != "":
		from = questionNode(j.FromQuestion)
	case j.FromPage != nil:
		from = pageNode(*j.FromPage)
	default:
		return "", "", false
	}
	switch {
	case j.ToQuestion != "":
		to = questionNode(j.ToQuestion)
	case j.ToPage != nil:
		to = pageNode(*j.ToPage)
	default:
		return "", "", false
	}
	return from, to, true
}

func cloneEdges(edges map[string][]string) map[string][]string {
	out := make(map[string][]string, len(edges))
	for k, v := range edges {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// hasCycle detects a cycle with Kahn's algorithm: if topological ordering
// cannot consume every node, a cycle remains.
func hasCycle(edges map[string][]string) bool {
	nodes := make(map[string]bool)
	inDegree := make(map[string]int)
	for from, tos := range edges {
		nodes[from] = true
		for _, to := range tos {
			nodes[to] = true
			inDegree[to]++
		}
	}

	queue := make([]string, 0, len(nodes))
	for n := range nodes {
		if inDegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, to := range edges[node] {
			inDegree[to]--
			if inDegree[to] == 0 {
				queue = append(queue, to)
			}
		}
	}

	return visited != len(nodes)
}
