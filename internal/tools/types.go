// Package tools implements the gateway's tool registry and executor: a
// named catalog of callable, schema-validated functions the conversation
// manager invokes on the LLM's behalf.
package tools

import "context"

// ParamType enumerates the primitive types a Schema field may declare.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// ParamSchema describes validation rules for a single tool parameter. It
// deliberately covers only the primitive surface the gateway's four
// default tools need (type/enum/required/pattern/items) rather than a
// general JSON-Schema document.
type ParamSchema struct {
	Type     ParamType
	Required bool
	Enum     []string
	Pattern  string    // regex, applies to TypeString
	Items    *ItemSpec // applies to TypeArray
}

// ItemSpec constrains the elements of an array parameter.
type ItemSpec struct {
	Type ParamType
	Enum []string
}

// Schema maps parameter name to its validation rule.
type Schema map[string]ParamSchema

// Executor performs the tool's actual work given validated parameters.
type Executor func(ctx context.Context, params map[string]any) (any, error)

// Definition is a registered tool: name, human description, parameter
// schema, and the function that executes it. Registration is append-only
// once live — Registry.Register refuses to silently replace an existing
// name.
type Definition struct {
	Name        string
	Description string
	Schema      Schema
	Executor    Executor
}

// Result is the outcome of ExecuteTool, matching spec.md's ToolResult
// shape.
type Result struct {
	ToolName            string
	Parameters          map[string]any
	Result              any
	ExecutionTime       int64 // milliseconds
	Success             bool
	ErrorMessage        string
	ErrorCode           string
	RecoverySuggestions []string
	FromCache           bool
	DataFreshness       string
}
