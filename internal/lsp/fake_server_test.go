package lsp

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"

	"pkt.systems/cortex/internal/framing"
)

const fakeServerEnv = "CORTEX_FAKE_LSP_SERVER"

func TestMain(m *testing.M) {
	if os.Getenv(fakeServerEnv) == "1" {
		os.Exit(runFakeServer())
	}
	os.Exit(m.Run())
}

type fakeMessage struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// runFakeServer is a tiny language server speaking over stdio.
func runFakeServer() int {
	r := framing.NewReader(os.Stdin)
	w := framing.NewWriter(os.Stdout)
	docs := map[string]string{}
	reply := func(id json.RawMessage, result any) {
		_ = w.Write(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
	}
	notify := func(method string, params any) {
		_ = w.Write(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
	}
	for {
		raw, err := r.Next()
		if err != nil {
			return 1
		}
		var m fakeMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return 2
		}
		switch m.Method {
		case "initialize":
			reply(m.ID, map[string]any{"capabilities": map[string]any{
				"completionProvider": map[string]any{"triggerCharacters": []string{"."}},
				"definitionProvider": true,
			}})
		case "initialized":
			_ = w.Write(map[string]any{"jsonrpc": "2.0", "id": "cfg-1", "method": "workspace/configuration",
				"params": map[string]any{"items": []map[string]string{{"section": "fake.option"}}}})
		case "textDocument/didOpen":
			var p struct {
				TextDocument struct {
					URI  string `json:"uri"`
					Text string `json:"text"`
				} `json:"textDocument"`
			}
			_ = json.Unmarshal(m.Params, &p)
			docs[p.TextDocument.URI] = p.TextDocument.Text
			notify("textDocument/publishDiagnostics", map[string]any{
				"uri":     p.TextDocument.URI,
				"version": 1,
				"diagnostics": []map[string]any{{
					"range":   map[string]any{"start": map[string]int{"line": 1, "character": 4}, "end": map[string]int{"line": 1, "character": 6}},
					"message": "incomplete statement",
				}},
			})
		case "textDocument/completion":
			var p struct {
				TextDocument struct {
					URI string `json:"uri"`
				} `json:"textDocument"`
			}
			_ = json.Unmarshal(m.Params, &p)
			items := []map[string]any{}
			if strings.Contains(docs[p.TextDocument.URI], "pa") {
				items = append(items, map[string]any{"label": "pass", "kind": 14})
			}
			reply(m.ID, map[string]any{"isIncomplete": false, "items": items})
		case "textDocument/definition":
			reply(m.ID, []map[string]any{{
				"targetUri":            "file:///tmp/def.py",
				"targetRange":          map[string]any{"start": map[string]int{"line": 0, "character": 0}, "end": map[string]int{"line": 3, "character": 0}},
				"targetSelectionRange": map[string]any{"start": map[string]int{"line": 0, "character": 4}, "end": map[string]int{"line": 0, "character": 5}},
			}})
		case "textDocument/hover":
			reply(m.ID, nil)
		case "textDocument/formatting":
			reply(m.ID, nil)
		case "cortex/crash":
			return 3
		case "shutdown":
			reply(m.ID, nil)
		case "exit":
			return 0
		case "":
			// Response to our workspace/configuration request.
			notify("window/logMessage", map[string]any{"type": 3, "message": fmt.Sprintf("config %s", m.Result)})
		default:
			if len(m.ID) > 0 {
				_ = w.Write(map[string]any{"jsonrpc": "2.0", "id": m.ID, "error": map[string]any{"code": -32601, "message": "unknown " + m.Method}})
			}
		}
	}
}
