package model

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	adkmodel "google.golang.org/adk/model"
	"google.golang.org/genai"
)

// toolInterface matches the tool.Tool interface from ADK
type toolInterface interface {
	Name() string
	Description() string
}

// declarationProvider matches tools that have a Declaration method
type declarationProvider interface {
	Declaration() *genai.FunctionDeclaration
}

// toolSpec is a function tool in the vendor-neutral form both chat APIs need:
// a name, a description and a JSON Schema object for the arguments.
type toolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// collectTools gathers the function declarations of a request, sorted by
// name. Declarations in the generate config take precedence over the tool
// map, which is consulted for tools that are not declared there.
func collectTools(req *adkmodel.LLMRequest) ([]toolSpec, error) {
	seen := make(map[string]bool)
	var specs []toolSpec

	add := func(decl *genai.FunctionDeclaration, fallbackDesc string) error {
		if decl == nil || decl.Name == "" || seen[decl.Name] {
			return nil
		}
		schema, err := declarationSchema(decl)
		if err != nil {
			return fmt.Errorf("tool %s: %w", decl.Name, err)
		}
		desc := decl.Description
		if desc == "" {
			desc = fallbackDesc
		}
		seen[decl.Name] = true
		specs = append(specs, toolSpec{Name: decl.Name, Description: desc, Schema: schema})
		return nil
	}

	if req.Config != nil {
		for _, t := range req.Config.Tools {
			if t == nil {
				continue
			}
			for _, decl := range t.FunctionDeclarations {
				if err := add(decl, ""); err != nil {
					return nil, err
				}
			}
		}
	}

	for name, def := range req.Tools {
		if seen[name] {
			continue
		}
		switch d := def.(type) {
		case *genai.FunctionDeclaration:
			if err := add(d, ""); err != nil {
				return nil, err
			}
		case genai.FunctionDeclaration:
			if err := add(&d, ""); err != nil {
				return nil, err
			}
		default:
			var desc string
			if t, ok := def.(toolInterface); ok {
				desc = t.Description()
			}
			dp, ok := def.(declarationProvider)
			if !ok {
				slog.Warn("skipping tool without declaration", "tool", name, "type", fmt.Sprintf("%T", def))
				continue
			}
			decl := dp.Declaration()
			if decl != nil && decl.Name == "" {
				decl.Name = name
			}
			if err := add(decl, desc); err != nil {
				return nil, err
			}
		}
	}

	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, nil
}

// declarationSchema returns the argument schema of decl as a JSON Schema
// map. ParametersJsonSchema is used as is; a genai.Schema has its upper-case
// type names lowered.
func declarationSchema(decl *genai.FunctionDeclaration) (map[string]any, error) {
	var src any
	switch {
	case decl.ParametersJsonSchema != nil:
		src = decl.ParametersJsonSchema
	case decl.Parameters != nil:
		src = decl.Parameters
	default:
		return map[string]any{"type": "object", "properties": map[string]any{}}, nil
	}

	raw, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	lowerTypes(schema)
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]any{}
	}
	return schema, nil
}

func lowerTypes(v any) {
	switch node := v.(type) {
	case map[string]any:
		for k, child := range node {
			if k == "type" {
				if s, ok := child.(string); ok {
					node[k] = strings.ToLower(s)
					continue
				}
			}
			lowerTypes(child)
		}
	case []any:
		for _, child := range node {
			lowerTypes(child)
		}
	}
}

// systemText joins the text of the system instruction and of any contents
// with the system role.
func systemText(req *adkmodel.LLMRequest) string {
	var parts []string
	if req.Config != nil && req.Config.SystemInstruction != nil {
		for _, p := range req.Config.SystemInstruction.Parts {
			if p != nil && p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
	}
	for _, c := range req.Contents {
		if c == nil || c.Role != "system" {
			continue
		}
		for _, p := range c.Parts {
			if p != nil && p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

// functionResponseJSON renders a tool result for the model.
func functionResponseJSON(fr *genai.FunctionResponse) (string, error) {
	b, err := json.Marshal(fr.Response)
	if err != nil {
		return "", fmt.Errorf("marshal function response %s: %w", fr.Name, err)
	}
	return string(b), nil
}
