package lsp

import (
	"context"
	"encoding/json"

	"go.lsp.dev/protocol"

	"pkt.systems/cortex/internal/jsonrpc"
	"pkt.systems/cortex/schema"
)

var emptyList = json.RawMessage("[]")

// CompletionList is a normalized completion result. Items are passed
// through unmodified.
type CompletionList struct {
	IsIncomplete bool              `json:"isIncomplete"`
	Items        []json.RawMessage `json:"items"`
}

// list requests method and maps null to an empty array.
func (s *Session) list(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := s.Request(ctx, method, params)
	if err != nil {
		return nil, err
	}
	if jsonrpc.IsNull(raw) {
		return emptyList, nil
	}
	return raw, nil
}

// optional requests method and maps null to nil.
func (s *Session) optional(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := s.Request(ctx, method, params)
	if err != nil || jsonrpc.IsNull(raw) {
		return nil, err
	}
	return raw, nil
}

func positionParams(docURI string, pos protocol.Position) protocol.TextDocumentPositionParams {
	return protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: documentURI(docURI)},
		Position:     pos,
	}
}

func docID(docURI string) protocol.TextDocumentIdentifier {
	return protocol.TextDocumentIdentifier{URI: documentURI(docURI)}
}

// Completion requests completions at pos.
func (s *Session) Completion(ctx context.Context, docURI string, pos protocol.Position, trigger *protocol.CompletionContext) (CompletionList, error) {
	raw, err := s.Request(ctx, "textDocument/completion", protocol.CompletionParams{
		TextDocumentPositionParams: positionParams(docURI, pos),
		Context:                    trigger,
	})
	if err != nil {
		return CompletionList{}, err
	}
	return decodeCompletion(raw)
}

func decodeCompletion(raw json.RawMessage) (CompletionList, error) {
	out := CompletionList{Items: []json.RawMessage{}}
	if jsonrpc.IsNull(raw) {
		return out, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		out.Items = items
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return CompletionList{}, schema.Protocol("decode completion result", err)
	}
	if out.Items == nil {
		out.Items = []json.RawMessage{}
	}
	return out, nil
}

// CompletionResolve fills in a completion item lazily.
func (s *Session) CompletionResolve(ctx context.Context, item json.RawMessage) (json.RawMessage, error) {
	return s.optional(ctx, "completionItem/resolve", item)
}

// Hover returns hover contents, or nil when the server has none.
func (s *Session) Hover(ctx context.Context, docURI string, pos protocol.Position) (json.RawMessage, error) {
	return s.optional(ctx, "textDocument/hover", protocol.HoverParams{TextDocumentPositionParams: positionParams(docURI, pos)})
}

type locationOrLink struct {
	URI                  protocol.DocumentURI `json:"uri"`
	Range                *protocol.Range      `json:"range"`
	TargetURI            protocol.DocumentURI `json:"targetUri"`
	TargetSelectionRange *protocol.Range      `json:"targetSelectionRange"`
	TargetRange          *protocol.Range      `json:"targetRange"`
}

func (l locationOrLink) location() (protocol.Location, bool) {
	switch {
	case l.URI != "" && l.Range != nil:
		return protocol.Location{URI: l.URI, Range: *l.Range}, true
	case l.TargetURI != "" && l.TargetSelectionRange != nil:
		return protocol.Location{URI: l.TargetURI, Range: *l.TargetSelectionRange}, true
	case l.TargetURI != "" && l.TargetRange != nil:
		return protocol.Location{URI: l.TargetURI, Range: *l.TargetRange}, true
	}
	return protocol.Location{}, false
}

// decodeLocations normalizes Location, Location[] and LocationLink[].
func decodeLocations(raw json.RawMessage) ([]protocol.Location, error) {
	out := []protocol.Location{}
	if jsonrpc.IsNull(raw) {
		return out, nil
	}
	var many []locationOrLink
	if err := json.Unmarshal(raw, &many); err != nil {
		var one locationOrLink
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, schema.Protocol("decode locations", err)
		}
		many = []locationOrLink{one}
	}
	for _, l := range many {
		if loc, ok := l.location(); ok {
			out = append(out, loc)
		}
	}
	return out, nil
}

func (s *Session) locations(ctx context.Context, method string, params any) ([]protocol.Location, error) {
	raw, err := s.Request(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return decodeLocations(raw)
}

// Definition resolves the definition of the symbol at pos.
func (s *Session) Definition(ctx context.Context, docURI string, pos protocol.Position) ([]protocol.Location, error) {
	return s.locations(ctx, "textDocument/definition", protocol.DefinitionParams{TextDocumentPositionParams: positionParams(docURI, pos)})
}

// TypeDefinition resolves the type of the symbol at pos.
func (s *Session) TypeDefinition(ctx context.Context, docURI string, pos protocol.Position) ([]protocol.Location, error) {
	return s.locations(ctx, "textDocument/typeDefinition", protocol.TypeDefinitionParams{TextDocumentPositionParams: positionParams(docURI, pos)})
}

// Implementation resolves implementations of the symbol at pos.
func (s *Session) Implementation(ctx context.Context, docURI string, pos protocol.Position) ([]protocol.Location, error) {
	return s.locations(ctx, "textDocument/implementation", protocol.ImplementationParams{TextDocumentPositionParams: positionParams(docURI, pos)})
}

// References finds references to the symbol at pos.
func (s *Session) References(ctx context.Context, docURI string, pos protocol.Position, includeDeclaration bool) ([]protocol.Location, error) {
	return s.locations(ctx, "textDocument/references", protocol.ReferenceParams{
		TextDocumentPositionParams: positionParams(docURI, pos),
		Context:                    protocol.ReferenceContext{IncludeDeclaration: includeDeclaration},
	})
}

// SignatureHelp returns signature information at pos.
func (s *Session) SignatureHelp(ctx context.Context, docURI string, pos protocol.Position) (json.RawMessage, error) {
	return s.optional(ctx, "textDocument/signatureHelp", protocol.SignatureHelpParams{TextDocumentPositionParams: positionParams(docURI, pos)})
}

// Rename computes the workspace edit renaming the symbol at pos.
func (s *Session) Rename(ctx context.Context, docURI string, pos protocol.Position, newName string) (json.RawMessage, error) {
	if newName == "" {
		return nil, schema.BadArgument("newName", "is required")
	}
	return s.optional(ctx, "textDocument/rename", protocol.RenameParams{
		TextDocumentPositionParams: positionParams(docURI, pos),
		NewName:                    newName,
	})
}

type codeActionParams struct {
	TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
	Range        protocol.Range                  `json:"range"`
	Context      codeActionContext               `json:"context"`
}

type codeActionContext struct {
	Diagnostics json.RawMessage `json:"diagnostics"`
	Only        []string        `json:"only,omitempty"`
}

// CodeAction lists code actions for rng. diagnostics is passed through.
func (s *Session) CodeAction(ctx context.Context, docURI string, rng protocol.Range, diagnostics json.RawMessage, only []string) (json.RawMessage, error) {
	if jsonrpc.IsNull(diagnostics) {
		diagnostics = emptyList
	}
	return s.list(ctx, "textDocument/codeAction", codeActionParams{
		TextDocument: docID(docURI),
		Range:        rng,
		Context:      codeActionContext{Diagnostics: diagnostics, Only: only},
	})
}

// ExecuteCommand runs a server command.
func (s *Session) ExecuteCommand(ctx context.Context, command string, args []any) (json.RawMessage, error) {
	if command == "" {
		return nil, schema.BadArgument("command", "is required")
	}
	return s.optional(ctx, "workspace/executeCommand", protocol.ExecuteCommandParams{Command: command, Arguments: args})
}

// Formatting formats the whole document.
func (s *Session) Formatting(ctx context.Context, docURI string, opts protocol.FormattingOptions) ([]protocol.TextEdit, error) {
	return s.edits(ctx, "textDocument/formatting", protocol.DocumentFormattingParams{TextDocument: docID(docURI), Options: opts})
}

// RangeFormatting formats rng.
func (s *Session) RangeFormatting(ctx context.Context, docURI string, rng protocol.Range, opts protocol.FormattingOptions) ([]protocol.TextEdit, error) {
	return s.edits(ctx, "textDocument/rangeFormatting", protocol.DocumentRangeFormattingParams{TextDocument: docID(docURI), Range: rng, Options: opts})
}

func (s *Session) edits(ctx context.Context, method string, params any) ([]protocol.TextEdit, error) {
	out := []protocol.TextEdit{}
	raw, err := s.Request(ctx, method, params)
	if err != nil {
		return nil, err
	}
	if jsonrpc.IsNull(raw) {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, schema.Protocol("decode "+method+" result", err)
	}
	return out, nil
}

// DocumentSymbols lists the symbols of a document.
func (s *Session) DocumentSymbols(ctx context.Context, docURI string) (json.RawMessage, error) {
	return s.list(ctx, "textDocument/documentSymbol", protocol.DocumentSymbolParams{TextDocument: docID(docURI)})
}

// CodeLens lists code lenses.
func (s *Session) CodeLens(ctx context.Context, docURI string) (json.RawMessage, error) {
	return s.list(ctx, "textDocument/codeLens", protocol.CodeLensParams{TextDocument: docID(docURI)})
}

// CodeLensResolve resolves one code lens.
func (s *Session) CodeLensResolve(ctx context.Context, lens json.RawMessage) (json.RawMessage, error) {
	return s.optional(ctx, "codeLens/resolve", lens)
}

// SemanticTokens returns full-document semantic tokens.
func (s *Session) SemanticTokens(ctx context.Context, docURI string) (json.RawMessage, error) {
	return s.optional(ctx, "textDocument/semanticTokens/full", protocol.SemanticTokensParams{TextDocument: docID(docURI)})
}

// DocumentHighlights lists occurrences of the symbol at pos.
func (s *Session) DocumentHighlights(ctx context.Context, docURI string, pos protocol.Position) (json.RawMessage, error) {
	return s.list(ctx, "textDocument/documentHighlight", protocol.DocumentHighlightParams{TextDocumentPositionParams: positionParams(docURI, pos)})
}

// DocumentLinks lists links in a document.
func (s *Session) DocumentLinks(ctx context.Context, docURI string) (json.RawMessage, error) {
	return s.list(ctx, "textDocument/documentLink", protocol.DocumentLinkParams{TextDocument: docID(docURI)})
}

// SelectionRanges returns nested selection ranges for each position.
func (s *Session) SelectionRanges(ctx context.Context, docURI string, positions []protocol.Position) (json.RawMessage, error) {
	return s.list(ctx, "textDocument/selectionRange", protocol.SelectionRangeParams{TextDocument: docID(docURI), Positions: positions})
}

// DocumentColors lists color references in a document.
func (s *Session) DocumentColors(ctx context.Context, docURI string) (json.RawMessage, error) {
	return s.list(ctx, "textDocument/documentColor", protocol.DocumentColorParams{TextDocument: docID(docURI)})
}

// ColorPresentation lists the ways color can be written at rng.
func (s *Session) ColorPresentation(ctx context.Context, docURI string, color protocol.Color, rng protocol.Range) (json.RawMessage, error) {
	return s.list(ctx, "textDocument/colorPresentation", protocol.ColorPresentationParams{TextDocument: docID(docURI), Color: color, Range: rng})
}

// FoldingRanges lists folding ranges.
func (s *Session) FoldingRanges(ctx context.Context, docURI string) (json.RawMessage, error) {
	return s.list(ctx, "textDocument/foldingRange", protocol.FoldingRangeParams{TextDocumentPositionParams: protocol.TextDocumentPositionParams{TextDocument: docID(docURI)}})
}

// LinkedEditingRanges returns ranges edited together with pos.
func (s *Session) LinkedEditingRanges(ctx context.Context, docURI string, pos protocol.Position) (json.RawMessage, error) {
	return s.optional(ctx, "textDocument/linkedEditingRange", protocol.LinkedEditingRangeParams{TextDocumentPositionParams: positionParams(docURI, pos)})
}

type inlayHintParams struct {
	TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
	Range        protocol.Range                  `json:"range"`
}

// InlayHints lists inlay hints within rng.
func (s *Session) InlayHints(ctx context.Context, docURI string, rng protocol.Range) (json.RawMessage, error) {
	return s.list(ctx, "textDocument/inlayHint", inlayHintParams{TextDocument: docID(docURI), Range: rng})
}
