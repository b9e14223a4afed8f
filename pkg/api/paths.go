package api

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// TaskOutputField is the envelope key a task's raw output is placed under
// before its OutputPath is applied, so "$.Payload" selects the output itself.
const TaskOutputField = "Payload"

func validPath(p string) bool {
	return p == "$" || (strings.HasPrefix(p, "$.") && len(p) > 2)
}

// selectPath resolves a "$"-rooted path against doc. The bool reports
// whether anything was found.
func selectPath(doc json.RawMessage, path string) (gjson.Result, bool) {
	var res gjson.Result
	switch {
	case path == "$":
		res = gjson.ParseBytes(doc)
	case strings.HasPrefix(path, "$."):
		res = gjson.GetBytes(doc, strings.TrimPrefix(path, "$."))
	default:
		return gjson.Result{}, false
	}
	return res, res.Exists()
}

// ProjectOutput wraps a task output in its envelope and narrows it with
// outputPath. An empty outputPath returns output unchanged.
func ProjectOutput(output json.RawMessage, outputPath string) (json.RawMessage, error) {
	if outputPath == "" {
		return output, nil
	}
	if len(output) == 0 {
		output = json.RawMessage("null")
	}
	env, err := sjson.SetRawBytes([]byte(`{}`), TaskOutputField, output)
	if err != nil {
		return nil, fmt.Errorf("wrap task output: %w", err)
	}
	res, ok := selectPath(env, outputPath)
	if !ok {
		return nil, fmt.Errorf("output path %q matched nothing", outputPath)
	}
	return json.RawMessage(res.Raw), nil
}

func isString(r gjson.Result) bool { return r.Type == gjson.String }
func isNumber(r gjson.Result) bool { return r.Type == gjson.Number }
func isBool(r gjson.Result) bool   { return r.Type == gjson.True || r.Type == gjson.False }
