package agent

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

// Tool is a function the model can call. Input is the raw JSON argument object.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON Schema for the tool's input parameters.
	Parameters() map[string]any
	Run(ctx context.Context, input string) (string, error)
}

// NativeTool implements Tool with direct function execution.
type NativeTool struct {
	name        string
	description string
	execute     func(ctx context.Context, input string) (string, error)
	params      map[string]any
}

// NewNativeTool creates a new NativeTool.
func NewNativeTool(
	name string,
	description string,
	execute func(ctx context.Context, input string) (string, error),
	parameters map[string]any,
) Tool {
	return &NativeTool{
		name:        name,
		description: description,
		execute:     execute,
		params:      parameters,
	}
}

func (t *NativeTool) Name() string {
	return t.name
}

func (t *NativeTool) Description() string {
	return t.description
}

func (t *NativeTool) Parameters() map[string]any {
	return t.params
}

func (t *NativeTool) Run(ctx context.Context, input string) (string, error) {
	return t.execute(ctx, input)
}

// Toolbox indexes tools by name.
type Toolbox struct {
	tools   []Tool
	toolMap map[string]Tool
}

func NewToolbox(tools ...Tool) *Toolbox {
	toolMap := make(map[string]Tool, len(tools))
	for _, tool := range tools {
		toolMap[tool.Name()] = tool
	}
	return &Toolbox{tools: tools, toolMap: toolMap}
}

func (b *Toolbox) Get(name string) (Tool, error) {
	tool, ok := b.toolMap[name]
	if !ok {
		return nil, errors.Wrapf(ErrToolNotFound, "%q", name)
	}
	return tool, nil
}

// Definitions renders the tools in the OpenAI function-calling format.
func (b *Toolbox) Definitions() []openai.Tool {
	defs := make([]openai.Tool, 0, len(b.tools))
	for _, tool := range b.tools {
		defs = append(defs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return defs
}

// ParseToolInputs flattens a JSON argument object into sorted key/value pairs.
// Non-string values keep their JSON encoding. Unparseable input is returned
// under the key "input".
func ParseToolInputs(arguments string) []ToolInput {
	if arguments == "" {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(arguments), &raw); err != nil {
		return []ToolInput{{Key: "input", Value: arguments}}
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	inputs := make([]ToolInput, 0, len(keys))
	for _, k := range keys {
		var s string
		if err := json.Unmarshal(raw[k], &s); err == nil {
			inputs = append(inputs, ToolInput{Key: k, Value: s})
			continue
		}
		inputs = append(inputs, ToolInput{Key: k, Value: string(raw[k])})
	}
	return inputs
}
