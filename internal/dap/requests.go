package dap

import (
	"context"
	"encoding/json"

	"github.com/google/go-dap"

	"pkt.systems/cortex/schema"
)

// Commands maps the IPC command suffix of each request family onto its DAP
// command. Arguments pass through untouched.
var Commands = map[string]string{
	"continue":                    "continue",
	"next":                        "next",
	"step_in":                     "stepIn",
	"step_out":                    "stepOut",
	"step_back":                   "stepBack",
	"reverse_continue":            "reverseContinue",
	"pause":                       "pause",
	"restart":                     "restart",
	"restart_frame":               "restartFrame",
	"goto":                        "goto",
	"goto_targets":                "gotoTargets",
	"step_in_targets":             "stepInTargets",
	"terminate":                   "terminate",
	"terminate_threads":           "terminateThreads",
	"set_breakpoints":             "setBreakpoints",
	"set_function_breakpoints":    "setFunctionBreakpoints",
	"set_exception_breakpoints":   "setExceptionBreakpoints",
	"set_data_breakpoints":        "setDataBreakpoints",
	"set_instruction_breakpoints": "setInstructionBreakpoints",
	"data_breakpoint_info":        "dataBreakpointInfo",
	"breakpoint_locations":        "breakpointLocations",
	"threads":                     "threads",
	"stack_trace":                 "stackTrace",
	"scopes":                      "scopes",
	"variables":                   "variables",
	"set_variable":                "setVariable",
	"set_expression":              "setExpression",
	"evaluate":                    "evaluate",
	"completions":                 "completions",
	"exception_info":              "exceptionInfo",
	"source":                      "source",
	"loaded_sources":              "loadedSources",
	"modules":                     "modules",
	"read_memory":                 "readMemory",
	"write_memory":                "writeMemory",
	"disassemble":                 "disassemble",
	"cancel":                      "cancel",
}

// SetBreakpoints replaces the breakpoints of one source file.
func (s *Session) SetBreakpoints(ctx context.Context, bp schema.DAPSourceBreakpoints) (json.RawMessage, error) {
	if bp.Path == "" {
		return nil, schema.BadArgument("path", "is required")
	}
	return s.Request(ctx, "setBreakpoints", breakpointArgs(bp))
}

// Continue resumes a thread.
func (s *Session) Continue(ctx context.Context, threadID int) (json.RawMessage, error) {
	return s.Request(ctx, "continue", dap.ContinueArguments{ThreadId: threadID})
}

// Next steps over.
func (s *Session) Next(ctx context.Context, threadID int) (json.RawMessage, error) {
	return s.Request(ctx, "next", dap.NextArguments{ThreadId: threadID})
}

// StepIn steps into.
func (s *Session) StepIn(ctx context.Context, threadID int) (json.RawMessage, error) {
	return s.Request(ctx, "stepIn", dap.StepInArguments{ThreadId: threadID})
}

// StepOut steps out.
func (s *Session) StepOut(ctx context.Context, threadID int) (json.RawMessage, error) {
	return s.Request(ctx, "stepOut", dap.StepOutArguments{ThreadId: threadID})
}

// Pause suspends a thread.
func (s *Session) Pause(ctx context.Context, threadID int) (json.RawMessage, error) {
	return s.Request(ctx, "pause", dap.PauseArguments{ThreadId: threadID})
}

// Threads lists the debuggee threads.
func (s *Session) Threads(ctx context.Context) ([]dap.Thread, error) {
	raw, err := s.Request(ctx, "threads", nil)
	if err != nil {
		return nil, err
	}
	var body dap.ThreadsResponseBody
	if err := decode(raw, &body); err != nil {
		return nil, schema.Protocol("decode threads", err)
	}
	if body.Threads == nil {
		body.Threads = []dap.Thread{}
	}
	return body.Threads, nil
}

// StackTrace returns up to levels frames of a thread; zero means all.
func (s *Session) StackTrace(ctx context.Context, threadID, startFrame, levels int) (json.RawMessage, error) {
	return s.Request(ctx, "stackTrace", dap.StackTraceArguments{ThreadId: threadID, StartFrame: startFrame, Levels: levels})
}

// Scopes lists the scopes of a frame.
func (s *Session) Scopes(ctx context.Context, frameID int) (json.RawMessage, error) {
	return s.Request(ctx, "scopes", dap.ScopesArguments{FrameId: frameID})
}

// Variables expands a variables reference.
func (s *Session) Variables(ctx context.Context, ref int) (json.RawMessage, error) {
	return s.Request(ctx, "variables", dap.VariablesArguments{VariablesReference: ref})
}

// Evaluate evaluates an expression in a frame; context is repl, watch or hover.
func (s *Session) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (json.RawMessage, error) {
	if expression == "" {
		return nil, schema.BadArgument("expression", "is required")
	}
	return s.Request(ctx, "evaluate", dap.EvaluateArguments{Expression: expression, FrameId: frameID, Context: evalContext})
}

func decode(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
