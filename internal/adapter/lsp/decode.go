package lsp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	lspDomain "github.com/Strob0t/codeintel/internal/domain/lsp"
)

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// decodeLocations accepts Location | Location[] | LocationLink[].
func decodeLocations(raw json.RawMessage) ([]lspDomain.Location, error) {
	if isNull(raw) {
		return []lspDomain.Location{}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		items = []json.RawMessage{raw}
	}

	locs := make([]lspDomain.Location, 0, len(items))
	for _, item := range items {
		var l struct {
			URI                  string           `json:"uri"`
			Range                *lspDomain.Range `json:"range"`
			TargetURI            string           `json:"targetUri"`
			TargetRange          *lspDomain.Range `json:"targetRange"`
			TargetSelectionRange *lspDomain.Range `json:"targetSelectionRange"`
		}
		if err := json.Unmarshal(item, &l); err != nil {
			return nil, fmt.Errorf("unexpected location format: %w", err)
		}
		switch {
		case l.URI != "" && l.Range != nil:
			locs = append(locs, lspDomain.Location{URI: l.URI, Range: *l.Range})
		case l.TargetURI != "":
			r := l.TargetSelectionRange
			if r == nil {
				r = l.TargetRange
			}
			if r == nil {
				return nil, fmt.Errorf("location link without range")
			}
			locs = append(locs, lspDomain.Location{URI: l.TargetURI, Range: *r})
		default:
			return nil, fmt.Errorf("unexpected location format")
		}
	}
	return locs, nil
}

func decodeHover(raw json.RawMessage) (*lspDomain.HoverResult, error) {
	if isNull(raw) {
		return nil, nil
	}
	// LSP hover result has a complex "contents" field (string | MarkupContent | MarkedString[]).
	var h struct {
		Contents json.RawMessage  `json:"contents"`
		Range    *lspDomain.Range `json:"range,omitempty"`
	}
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("unmarshal hover: %w", err)
	}
	return &lspDomain.HoverResult{Contents: hoverText(h.Contents), Range: h.Range}, nil
}

// hoverText normalizes the hover contents field to a markdown string.
func hoverText(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	if raw[0] == '{' {
		return markedString(raw)
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		parts := make([]string, 0, len(arr))
		for _, item := range arr {
			if p := markedString(item); p != "" {
				parts = append(parts, p)
			}
		}
		return strings.Join(parts, "\n\n")
	}

	return string(raw)
}

// markedString renders a string, MarkupContent{kind,value} or MarkedString{language,value}.
func markedString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var ms struct {
		Kind     string `json:"kind"`
		Language string `json:"language"`
		Value    string `json:"value"`
	}
	if err := json.Unmarshal(raw, &ms); err != nil {
		return ""
	}
	if ms.Language != "" {
		return fmt.Sprintf("```%s\n%s\n```", ms.Language, ms.Value)
	}
	return ms.Value
}

// decodeDocumentSymbols accepts DocumentSymbol[] or the flat SymbolInformation[] form.
func decodeDocumentSymbols(raw json.RawMessage) ([]lspDomain.DocumentSymbol, error) {
	if isNull(raw) {
		return []lspDomain.DocumentSymbol{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("unmarshal symbols: %w", err)
	}

	symbols := make([]lspDomain.DocumentSymbol, 0, len(items))
	for _, item := range items {
		var probe struct {
			Location *lspDomain.Location `json:"location"`
		}
		if err := json.Unmarshal(item, &probe); err != nil {
			return nil, fmt.Errorf("unmarshal symbol: %w", err)
		}
		if probe.Location != nil {
			var si lspDomain.SymbolInformation
			if err := json.Unmarshal(item, &si); err != nil {
				return nil, fmt.Errorf("unmarshal symbol information: %w", err)
			}
			symbols = append(symbols, lspDomain.DocumentSymbol{
				Name:           si.Name,
				Kind:           si.Kind,
				Range:          si.Location.Range,
				SelectionRange: si.Location.Range,
				ContainerName:  si.ContainerName,
			})
			continue
		}
		var ds lspDomain.DocumentSymbol
		if err := json.Unmarshal(item, &ds); err != nil {
			return nil, fmt.Errorf("unmarshal document symbol: %w", err)
		}
		symbols = append(symbols, ds)
	}
	return symbols, nil
}

// decodeWorkspaceSymbols accepts SymbolInformation[] and WorkspaceSymbol[]
// (whose location may omit the range).
func decodeWorkspaceSymbols(raw json.RawMessage) ([]lspDomain.SymbolInformation, error) {
	if isNull(raw) {
		return []lspDomain.SymbolInformation{}, nil
	}
	var items []struct {
		Name          string `json:"name"`
		Kind          int    `json:"kind"`
		ContainerName string `json:"containerName"`
		Location      struct {
			URI   string           `json:"uri"`
			Range *lspDomain.Range `json:"range"`
		} `json:"location"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("unmarshal workspace symbols: %w", err)
	}
	out := make([]lspDomain.SymbolInformation, 0, len(items))
	for _, it := range items {
		si := lspDomain.SymbolInformation{
			Name:          it.Name,
			Kind:          it.Kind,
			ContainerName: it.ContainerName,
			Location:      lspDomain.Location{URI: it.Location.URI},
		}
		if it.Location.Range != nil {
			si.Location.Range = *it.Location.Range
		}
		out = append(out, si)
	}
	return out, nil
}

// decodePrepareRename accepts Range | {range, placeholder} | {defaultBehavior} | null.
// A nil result means the position cannot be renamed.
func decodePrepareRename(raw json.RawMessage) (*lspDomain.PrepareRenameResult, error) {
	if isNull(raw) {
		return nil, nil
	}
	var v struct {
		Start           *lspDomain.Position `json:"start"`
		End             *lspDomain.Position `json:"end"`
		Range           *lspDomain.Range    `json:"range"`
		Placeholder     string              `json:"placeholder"`
		DefaultBehavior bool                `json:"defaultBehavior"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("unmarshal prepare rename: %w", err)
	}
	switch {
	case v.Start != nil && v.End != nil:
		return &lspDomain.PrepareRenameResult{Range: &lspDomain.Range{Start: *v.Start, End: *v.End}}, nil
	case v.Range != nil:
		return &lspDomain.PrepareRenameResult{Range: v.Range, Placeholder: v.Placeholder}, nil
	case v.DefaultBehavior:
		return &lspDomain.PrepareRenameResult{DefaultBehavior: true}, nil
	default:
		return nil, fmt.Errorf("unexpected prepare rename format")
	}
}

// decodeWorkspaceEdit normalizes changes and documentChanges. Entries of
// documentChanges are TextDocumentEdit or a create/rename/delete operation.
func decodeWorkspaceEdit(raw json.RawMessage) (*lspDomain.WorkspaceEdit, error) {
	if isNull(raw) {
		return nil, nil
	}
	var w struct {
		Changes         map[string][]lspDomain.TextEdit `json:"changes"`
		DocumentChanges []json.RawMessage               `json:"documentChanges"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("unmarshal workspace edit: %w", err)
	}

	edit := &lspDomain.WorkspaceEdit{Changes: w.Changes}
	for _, item := range w.DocumentChanges {
		var dc struct {
			Kind         string `json:"kind"`
			URI          string `json:"uri"`
			OldURI       string `json:"oldUri"`
			NewURI       string `json:"newUri"`
			TextDocument *struct {
				URI     string `json:"uri"`
				Version *int   `json:"version"`
			} `json:"textDocument"`
			Edits []lspDomain.TextEdit `json:"edits"`
		}
		if err := json.Unmarshal(item, &dc); err != nil {
			return nil, fmt.Errorf("unmarshal document change: %w", err)
		}
		switch dc.Kind {
		case "create":
			edit.DocumentChanges = append(edit.DocumentChanges, lspDomain.DocumentChange{Kind: lspDomain.ChangeCreate, URI: dc.URI})
		case "delete":
			edit.DocumentChanges = append(edit.DocumentChanges, lspDomain.DocumentChange{Kind: lspDomain.ChangeDelete, URI: dc.URI})
		case "rename":
			edit.DocumentChanges = append(edit.DocumentChanges, lspDomain.DocumentChange{Kind: lspDomain.ChangeRename, OldURI: dc.OldURI, NewURI: dc.NewURI})
		case "":
			if dc.TextDocument == nil {
				return nil, fmt.Errorf("document change without textDocument")
			}
			edit.DocumentChanges = append(edit.DocumentChanges, lspDomain.DocumentChange{
				Kind:    lspDomain.ChangeEdit,
				URI:     dc.TextDocument.URI,
				Version: dc.TextDocument.Version,
				Edits:   dc.Edits,
			})
		default:
			return nil, fmt.Errorf("unknown document change kind %q", dc.Kind)
		}
	}
	return edit, nil
}

// decodeCodeActions accepts (Command | CodeAction)[]. Bare commands are
// wrapped in a CodeAction carrying only the command.
func decodeCodeActions(raw json.RawMessage) ([]lspDomain.CodeAction, error) {
	if isNull(raw) {
		return []lspDomain.CodeAction{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("unmarshal code actions: %w", err)
	}
	actions := make([]lspDomain.CodeAction, 0, len(items))
	for _, item := range items {
		a, err := decodeCodeAction(item)
		if err != nil {
			return nil, err
		}
		actions = append(actions, *a)
	}
	return actions, nil
}

func decodeCodeAction(raw json.RawMessage) (*lspDomain.CodeAction, error) {
	var probe struct {
		Title       string                 `json:"title"`
		Kind        string                 `json:"kind"`
		Diagnostics []lspDomain.Diagnostic `json:"diagnostics"`
		IsPreferred bool                   `json:"isPreferred"`
		Edit        json.RawMessage        `json:"edit"`
		Command     json.RawMessage        `json:"command"`
		Arguments   []json.RawMessage      `json:"arguments"`
		Data        json.RawMessage        `json:"data"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("unmarshal code action: %w", err)
	}

	a := &lspDomain.CodeAction{
		Title:       probe.Title,
		Kind:        probe.Kind,
		Diagnostics: probe.Diagnostics,
		IsPreferred: probe.IsPreferred,
		Data:        probe.Data,
		Raw:         append(json.RawMessage(nil), raw...),
	}

	// A bare Command has a string "command" field.
	var name string
	if len(probe.Command) > 0 && json.Unmarshal(probe.Command, &name) == nil {
		a.Command = &lspDomain.Command{Title: probe.Title, Command: name, Arguments: probe.Arguments}
		return a, nil
	}
	if !isNull(probe.Command) {
		var cmd lspDomain.Command
		if err := json.Unmarshal(probe.Command, &cmd); err != nil {
			return nil, fmt.Errorf("unmarshal code action command: %w", err)
		}
		a.Command = &cmd
	}
	if !isNull(probe.Edit) {
		edit, err := decodeWorkspaceEdit(probe.Edit)
		if err != nil {
			return nil, err
		}
		a.Edit = edit
	}
	return a, nil
}
