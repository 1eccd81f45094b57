package generator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/execd/internal/model"
)

const systemPrompt = `You are an expert Python code generator for scientific computing and control systems.

Generate high-quality, executable Python code based on user requirements.

RULES:
1. Generate ONLY executable Python code
2. Include all necessary imports at the top
3. Store results in a dictionary variable named 'results'
4. Use clear variable names
5. Focus on the specific task
6. Output code in a single fenced code block

Your generated code will be analyzed for security, reviewed by humans when
required, and executed in an isolated environment.`

// buildTaskPrompt assembles the user-facing portion of a generation prompt:
// objective, query, capability instructions, results contract, prior context
// keys, and the numbered error history of failed attempts.
func buildTaskPrompt(req *model.ExecutionRequest, chain *model.ErrorChain) string {
	var b strings.Builder

	fmt.Fprintf(&b, "**Task:** %s\n", req.TaskObjective)
	if req.UserQuery != "" {
		fmt.Fprintf(&b, "**User Query:** %s\n", req.UserQuery)
	}

	if len(req.CapabilityPrompts) > 0 {
		b.WriteString("\n**Capability Instructions:**\n")
		for _, p := range req.CapabilityPrompts {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}

	if len(req.ExpectedResults) > 0 {
		b.WriteString("\n**Required Results:** populate the 'results' dict with:\n")
		names := make([]string, 0, len(req.ExpectedResults))
		for name := range req.ExpectedResults {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "- %s (%s)\n", name, req.ExpectedResults[name])
		}
	}

	if len(req.CapabilityContext) > 0 {
		b.WriteString("\n**Available Context:**\n")
		keys := make([]string, 0, len(req.CapabilityContext))
		for k := range req.CapabilityContext {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %v\n", k, req.CapabilityContext[k])
		}
	}

	if chain.Len() > 0 {
		b.WriteString("\n**Previous Attempts Failed:** fix these errors in the new code:\n")
		for i, e := range chain.Entries() {
			fmt.Fprintf(&b, "%d. %s\n", i+1, e)
		}
	}

	return b.String()
}
