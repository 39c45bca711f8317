package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kurogate/kuro/infrastructure/httputil"
	"github.com/kurogate/kuro/internal/authn"
)

type toolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type toolCallEnvelope struct {
	ToolCall toolCall `json:"kuro_tool_call"`
}

type toolResult struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	Truncated bool   `json:"truncated"`
}

type toolResultEnvelope struct {
	ToolResult toolResult `json:"kuro_tool_result"`
}

const toolResultMaxBytes = 1 << 16 // 64KiB, beyond which a result is truncated

// handleToolsInvoke dispatches a single tool call against the connector and
// retrieval primitives, named by the profile's tool subset ("file", "shell",
// "retrieval"). Unknown tool names and tool-level failures both come back as
// a 200 with ok:false — only malformed envelopes are a 4xx.
func handleToolsInvoke(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerFromContext(r.Context())

		var envelope toolCallEnvelope
		if !httputil.DecodeJSON(w, r, &envelope) {
			return
		}
		call := envelope.ToolCall
		if call.ID == "" || call.Name == "" {
			httputil.BadRequest(w, "kuro_tool_call.id and name are required")
			return
		}
		if !d.ToolReplay.ValidateAndMark(caller.UserID + ":" + call.ID) {
			httputil.WriteJSON(w, http.StatusOK, toolResultEnvelope{ToolResult: toolFailure(call, "duplicate tool call id")})
			return
		}

		result := dispatchTool(r.Context(), d, caller, call)
		httputil.WriteJSON(w, http.StatusOK, toolResultEnvelope{ToolResult: result})
	}
}

func dispatchTool(ctx context.Context, d *deps, caller authn.Caller, call toolCall) toolResult {
	switch call.Name {
	case "file.read":
		var args struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(call.Args, &args); err != nil {
			return toolFailure(call, "invalid args: "+err.Error())
		}
		content, err := d.FileConnector.Read(ctx, caller, args.Path)
		if err != nil {
			return toolFailure(call, err.Error())
		}
		return toolSuccess(call, map[string]any{"content": string(content)})

	case "file.write":
		var args struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(call.Args, &args); err != nil {
			return toolFailure(call, "invalid args: "+err.Error())
		}
		record, err := d.FileConnector.Write(ctx, caller, args.Path, []byte(args.Content))
		if err != nil {
			return toolFailure(call, err.Error())
		}
		return toolSuccess(call, record)

	case "shell.exec":
		var args struct {
			Workdir string   `json:"workdir"`
			Binary  string   `json:"binary"`
			Args    []string `json:"args"`
		}
		if err := json.Unmarshal(call.Args, &args); err != nil {
			return toolFailure(call, "invalid args: "+err.Error())
		}
		out, err := d.ShellConnector.Exec(ctx, caller, args.Workdir, args.Binary, args.Args)
		if err != nil {
			return toolFailure(call, err.Error())
		}
		return toolSuccess(call, out)

	case "retrieval.query":
		var args struct {
			Namespace string `json:"namespace"`
			Query     string `json:"query"`
			TopK      int    `json:"topK"`
		}
		if err := json.Unmarshal(call.Args, &args); err != nil {
			return toolFailure(call, "invalid args: "+err.Error())
		}
		namespace := args.Namespace
		if namespace == "" {
			namespace = "edubba"
		}
		k := args.TopK
		if k <= 0 {
			k = 5
		}
		chunks, err := d.Retrieval.TopK(ctx, caller.UserID, namespace, args.Query, k)
		if err != nil {
			return toolFailure(call, err.Error())
		}
		return toolSuccess(call, map[string]any{"chunks": chunks})

	default:
		return toolFailure(call, "unknown tool: "+call.Name)
	}
}

// toolSuccess marshals result to measure its size; a result over the byte
// ceiling is still returned in full (the caller already paid to compute it)
// but flagged truncated so the orchestrator's prompt builder can summarize
// rather than inline it.
func toolSuccess(call toolCall, result any) toolResult {
	encoded, err := json.Marshal(result)
	if err != nil {
		return toolFailure(call, "failed to encode result: "+err.Error())
	}
	return toolResult{
		ID:        call.ID,
		Name:      call.Name,
		OK:        true,
		Result:    json.RawMessage(encoded),
		Truncated: len(encoded) > toolResultMaxBytes,
	}
}

func toolFailure(call toolCall, message string) toolResult {
	return toolResult{ID: call.ID, Name: call.Name, OK: false, Error: message}
}
