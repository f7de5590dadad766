package lsp

import (
	"strings"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// ContentChange is one didChange edit. A nil Range replaces the whole
// document.
type ContentChange struct {
	Range       *protocol.Range `json:"range,omitempty"`
	RangeLength uint32          `json:"rangeLength,omitempty"`
	Text        string          `json:"text"`
}

type didChangeParams struct {
	TextDocument   protocol.VersionedTextDocumentIdentifier `json:"textDocument"`
	ContentChanges []ContentChange                          `json:"contentChanges"`
}

type didSaveParams struct {
	TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
	Text         *string                         `json:"text,omitempty"`
}

// documentURI accepts a URI or a plain file system path.
func documentURI(s string) protocol.DocumentURI {
	if strings.Contains(s, "://") || strings.HasPrefix(s, "untitled:") {
		return protocol.DocumentURI(s)
	}
	return uri.File(s)
}

// DidOpen announces a document the editor opened.
func (s *Session) DidOpen(docURI, languageID string, version int32, text string) error {
	u := documentURI(docURI)
	if languageID == "" {
		languageID = languageFromPath(docURI)
	}
	s.mu.Lock()
	s.docs[u] = version
	s.mu.Unlock()
	return s.notify("textDocument/didOpen", protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        u,
			LanguageID: protocol.LanguageIdentifier(languageID),
			Version:    version,
			Text:       text,
		},
	})
}

// DidChange sends edits. A version of zero continues from the last one.
func (s *Session) DidChange(docURI string, version int32, changes []ContentChange) error {
	u := documentURI(docURI)
	s.mu.Lock()
	if version <= 0 {
		version = s.docs[u] + 1
	}
	s.docs[u] = version
	s.mu.Unlock()
	return s.notify("textDocument/didChange", didChangeParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: u},
			Version:                version,
		},
		ContentChanges: changes,
	})
}

// DidSave announces a save, optionally with the saved text.
func (s *Session) DidSave(docURI string, text *string) error {
	return s.notify("textDocument/didSave", didSaveParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: documentURI(docURI)},
		Text:         text,
	})
}

// DidClose announces a closed document.
func (s *Session) DidClose(docURI string) error {
	u := documentURI(docURI)
	s.mu.Lock()
	delete(s.docs, u)
	delete(s.diags, u)
	s.mu.Unlock()
	return s.notify("textDocument/didClose", protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: u},
	})
}

// OpenDocuments reports how many documents are open on the server.
func (s *Session) OpenDocuments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

var extLanguages = map[string]string{
	".go":   "go",
	".py":   "python",
	".rs":   "rust",
	".ts":   "typescript",
	".tsx":  "typescriptreact",
	".js":   "javascript",
	".jsx":  "javascriptreact",
	".json": "json",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".java": "java",
	".rb":   "ruby",
	".sh":   "shellscript",
	".md":   "markdown",
	".yaml": "yaml",
	".yml":  "yaml",
	".toml": "toml",
	".lua":  "lua",
}

func languageFromPath(p string) string {
	if i := strings.LastIndexByte(p, '.'); i >= 0 {
		if id, ok := extLanguages[strings.ToLower(p[i:])]; ok {
			return id
		}
	}
	return "plaintext"
}
