package lsp

import (
	"path/filepath"
	"strings"
)

// ServerDefinition defines how to launch a language server and which files it serves.
// Definitions are loaded once at startup and never mutated afterwards.
type ServerDefinition struct {
	ID          string            `yaml:"id" json:"id"`
	Command     []string          `yaml:"command" json:"command"` // e.g. ["gopls", "serve"]
	Env         map[string]string `yaml:"env" json:"env,omitempty"`
	Extensions  []string          `yaml:"extensions" json:"extensions"`
	LanguageID  string            `yaml:"language_id" json:"language_id,omitempty"` // overrides the extension table
	InitOptions map[string]any    `yaml:"initialization_options" json:"initialization_options,omitempty"`
	Priority    int               `yaml:"priority" json:"priority"`
	Disabled    bool              `yaml:"disabled" json:"disabled"`
}

// Handles reports whether the definition lists ext (".go", "go" or ".GO").
func (d *ServerDefinition) Handles(ext string) bool {
	ext = NormalizeExtension(ext)
	for _, e := range d.Extensions {
		if NormalizeExtension(e) == ext {
			return true
		}
	}
	return false
}

// CommandLine returns the command joined for display.
func (d *ServerDefinition) CommandLine() string {
	return strings.Join(d.Command, " ")
}

// NormalizeExtension lower-cases ext and ensures a leading dot.
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// PoolKey identifies one shared connection.
type PoolKey struct {
	Root     string
	ServerID string
}

func (k PoolKey) String() string {
	return k.ServerID + "@" + k.Root
}

// DefaultServers returns the built-in server definitions. All servers communicate via stdio.
func DefaultServers() []ServerDefinition {
	return []ServerDefinition{
		{ID: "gopls", Command: []string{"gopls", "serve"}, Extensions: []string{".go"}, Priority: 10},
		{ID: "pyright", Command: []string{"pyright-langserver", "--stdio"}, Extensions: []string{".py", ".pyi"}, Priority: 10},
		{
			ID:         "typescript",
			Command:    []string{"typescript-language-server", "--stdio"},
			Extensions: []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"},
			Priority:   10,
		},
		{ID: "rust-analyzer", Command: []string{"rust-analyzer"}, Extensions: []string{".rs"}, Priority: 10},
		{ID: "clangd", Command: []string{"clangd"}, Extensions: []string{".c", ".h", ".cc", ".cpp", ".hpp", ".cxx"}, Priority: 10},
	}
}

// DefaultWorkspaceMarkers are the files and directories that mark a workspace root.
var DefaultWorkspaceMarkers = []string{
	".git", ".hg", ".svn",
	"go.mod", "package.json", "pyproject.toml", "setup.py",
	"Cargo.toml", "pom.xml", "build.gradle", "tsconfig.json",
	"deno.json", "composer.json", "Gemfile",
}

var languageIDs = map[string]string{
	".go":   "go",
	".py":   "python",
	".pyi":  "python",
	".ts":   "typescript",
	".tsx":  "typescriptreact",
	".js":   "javascript",
	".mjs":  "javascript",
	".cjs":  "javascript",
	".jsx":  "javascriptreact",
	".rs":   "rust",
	".c":    "c",
	".h":    "c",
	".cc":   "cpp",
	".cpp":  "cpp",
	".cxx":  "cpp",
	".hpp":  "cpp",
	".java": "java",
	".rb":   "ruby",
	".php":  "php",
	".cs":   "csharp",
	".lua":  "lua",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
}

// LanguageID returns the LSP language identifier for a file path.
// The definition's explicit LanguageID wins over the extension table.
func LanguageID(def *ServerDefinition, path string) string {
	if def != nil && def.LanguageID != "" {
		return def.LanguageID
	}
	ext := NormalizeExtension(filepath.Ext(path))
	if id, ok := languageIDs[ext]; ok {
		return id
	}
	return strings.TrimPrefix(ext, ".")
}
