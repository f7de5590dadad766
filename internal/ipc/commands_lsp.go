package ipc

import (
	"context"
	"encoding/json"

	"go.lsp.dev/protocol"

	"pkt.systems/cortex/internal/lsp"
	"pkt.systems/cortex/schema"
)

// lspParams is shared by the feature commands; each reads the fields it
// needs.
type lspParams struct {
	ID                 schema.SessionID            `json:"id"`
	IDs                []schema.SessionID          `json:"ids,omitempty"`
	URI                string                      `json:"uri"`
	Position           protocol.Position           `json:"position"`
	Positions          []protocol.Position         `json:"positions,omitempty"`
	Range              protocol.Range              `json:"range"`
	Context            *protocol.CompletionContext `json:"context,omitempty"`
	IncludeDeclaration bool                        `json:"includeDeclaration,omitempty"`
	NewName            string                      `json:"newName,omitempty"`
	Diagnostics        json.RawMessage             `json:"diagnostics,omitempty"`
	Only               []string                    `json:"only,omitempty"`
	Command            string                      `json:"command,omitempty"`
	Arguments          []any                       `json:"arguments,omitempty"`
	Options            protocol.FormattingOptions  `json:"options"`
	Item               json.RawMessage             `json:"item,omitempty"`
	Color              protocol.Color              `json:"color"`
	Method             string                      `json:"method,omitempty"`
	Params             json.RawMessage             `json:"params,omitempty"`
}

type lspDocumentParams struct {
	ID         schema.SessionID    `json:"id"`
	URI        string              `json:"uri"`
	LanguageID string              `json:"languageId,omitempty"`
	Version    int32               `json:"version"`
	Text       *string             `json:"text,omitempty"`
	Changes    []lsp.ContentChange `json:"changes,omitempty"`
}

type lspFeature func(ctx context.Context, s *lsp.Session, p lspParams) (any, error)

func registerLSP(r *Router, m *lsp.Manager) {
	r.Register("lsp_start_server", typed(func(ctx context.Context, cfg schema.LSPServerConfig) (schema.LSPServerInfo, error) {
		return m.Start(ctx, cfg)
	}))
	r.Register("lsp_stop_server", action(func(ctx context.Context, p schema.SessionRef) error {
		return m.Stop(ctx, p.ID)
	}))
	r.Register("lsp_restart", typed(func(ctx context.Context, p schema.SessionRef) (schema.LSPServerInfo, error) {
		return m.Restart(ctx, p.ID)
	}))
	r.Register("lsp_list_servers", query(func(context.Context) ([]schema.LSPServerInfo, error) {
		return m.List(), nil
	}))
	r.Register("lsp_get_server", typed(func(_ context.Context, p schema.SessionRef) (schema.LSPServerInfo, error) {
		return m.Get(p.ID)
	}))
	r.Register("lsp_stop_all", query(func(ctx context.Context) (schema.CloseAllResult, error) {
		return schema.CloseAllResult{Closed: m.CloseAll(ctx)}, nil
	}))

	document := func(fn func(s *lsp.Session, p lspDocumentParams) error) Handler {
		return action(func(_ context.Context, p lspDocumentParams) error {
			if p.URI == "" {
				return schema.BadArgument("uri", "is required")
			}
			s, err := m.Session(p.ID)
			if err != nil {
				return err
			}
			return fn(s, p)
		})
	}
	r.Register("lsp_did_open", document(func(s *lsp.Session, p lspDocumentParams) error {
		if p.Text == nil {
			return schema.BadArgument("text", "is required")
		}
		return s.DidOpen(p.URI, p.LanguageID, p.Version, *p.Text)
	}))
	r.Register("lsp_did_change", document(func(s *lsp.Session, p lspDocumentParams) error {
		return s.DidChange(p.URI, p.Version, p.Changes)
	}))
	r.Register("lsp_did_save", document(func(s *lsp.Session, p lspDocumentParams) error {
		return s.DidSave(p.URI, p.Text)
	}))
	r.Register("lsp_did_close", document(func(s *lsp.Session, p lspDocumentParams) error {
		return s.DidClose(p.URI)
	}))

	for name, fn := range lspFeatures {
		r.Register(name, lspCommand(m, fn))
	}
	registerLSPMulti(r, m)
}

func lspCommand(m *lsp.Manager, fn lspFeature) Handler {
	return typed(func(ctx context.Context, p lspParams) (any, error) {
		s, err := m.Session(p.ID)
		if err != nil {
			return nil, err
		}
		return fn(ctx, s, p)
	})
}

var lspFeatures = map[string]lspFeature{
	"lsp_completion": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.Completion(ctx, p.URI, p.Position, p.Context)
	},
	"lsp_completion_resolve": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.CompletionResolve(ctx, p.Item)
	},
	"lsp_hover": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.Hover(ctx, p.URI, p.Position)
	},
	"lsp_definition": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.Definition(ctx, p.URI, p.Position)
	},
	"lsp_type_definition": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.TypeDefinition(ctx, p.URI, p.Position)
	},
	"lsp_implementation": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.Implementation(ctx, p.URI, p.Position)
	},
	"lsp_references": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.References(ctx, p.URI, p.Position, p.IncludeDeclaration)
	},
	"lsp_signature_help": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.SignatureHelp(ctx, p.URI, p.Position)
	},
	"lsp_rename": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.Rename(ctx, p.URI, p.Position, p.NewName)
	},
	"lsp_code_action": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.CodeAction(ctx, p.URI, p.Range, p.Diagnostics, p.Only)
	},
	"lsp_execute_command": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.ExecuteCommand(ctx, p.Command, p.Arguments)
	},
	"lsp_formatting": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.Formatting(ctx, p.URI, p.Options)
	},
	"lsp_range_formatting": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.RangeFormatting(ctx, p.URI, p.Range, p.Options)
	},
	"lsp_document_symbols": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.DocumentSymbols(ctx, p.URI)
	},
	"lsp_code_lens": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.CodeLens(ctx, p.URI)
	},
	"lsp_code_lens_resolve": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.CodeLensResolve(ctx, p.Item)
	},
	"lsp_semantic_tokens": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.SemanticTokens(ctx, p.URI)
	},
	"lsp_document_highlights": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.DocumentHighlights(ctx, p.URI, p.Position)
	},
	"lsp_document_links": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.DocumentLinks(ctx, p.URI)
	},
	"lsp_selection_ranges": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.SelectionRanges(ctx, p.URI, p.Positions)
	},
	"lsp_document_colors": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.DocumentColors(ctx, p.URI)
	},
	"lsp_color_presentation": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.ColorPresentation(ctx, p.URI, p.Color, p.Range)
	},
	"lsp_folding_ranges": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.FoldingRanges(ctx, p.URI)
	},
	"lsp_linked_editing_ranges": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.LinkedEditingRanges(ctx, p.URI, p.Position)
	},
	"lsp_inlay_hints": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.InlayHints(ctx, p.URI, p.Range)
	},
	"lsp_diagnostics": func(_ context.Context, s *lsp.Session, p lspParams) (any, error) {
		return s.Diagnostics(p.URI), nil
	},
	"lsp_request": func(ctx context.Context, s *lsp.Session, p lspParams) (any, error) {
		if p.Method == "" {
			return nil, schema.BadArgument("method", "is required")
		}
		return s.Request(ctx, p.Method, p.Params)
	},
	"lsp_notify": func(_ context.Context, s *lsp.Session, p lspParams) (any, error) {
		if p.Method == "" {
			return nil, schema.BadArgument("method", "is required")
		}
		return nil, s.Notify(p.Method, p.Params)
	},
}

func registerLSPMulti(r *Router, m *lsp.Manager) {
	multi := func(fn func(ctx context.Context, p lspParams) any) Handler {
		return typed(func(ctx context.Context, p lspParams) (any, error) {
			if len(p.IDs) == 0 {
				return nil, schema.BadArgument("ids", "is required")
			}
			return fn(ctx, p), nil
		})
	}
	r.Register("lsp_multi_completion", multi(func(ctx context.Context, p lspParams) any {
		return m.MultiCompletion(ctx, p.IDs, p.URI, p.Position, p.Context)
	}))
	r.Register("lsp_multi_hover", multi(func(ctx context.Context, p lspParams) any {
		return m.MultiHover(ctx, p.IDs, p.URI, p.Position)
	}))
	r.Register("lsp_multi_definition", multi(func(ctx context.Context, p lspParams) any {
		return m.MultiDefinition(ctx, p.IDs, p.URI, p.Position)
	}))
	r.Register("lsp_multi_references", multi(func(ctx context.Context, p lspParams) any {
		return m.MultiReferences(ctx, p.IDs, p.URI, p.Position, p.IncludeDeclaration)
	}))
	r.Register("lsp_multi_code_action", multi(func(ctx context.Context, p lspParams) any {
		return m.MultiCodeAction(ctx, p.IDs, p.URI, p.Range, p.Diagnostics, p.Only)
	}))
	r.Register("lsp_multi_document_symbols", multi(func(ctx context.Context, p lspParams) any {
		return m.MultiDocumentSymbols(ctx, p.IDs, p.URI)
	}))
	r.Register("lsp_multi_inlay_hints", multi(func(ctx context.Context, p lspParams) any {
		return m.MultiInlayHints(ctx, p.IDs, p.URI, p.Range)
	}))
}
