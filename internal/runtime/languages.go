package runtime

import (
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
)

// extToLanguage maps file extensions to the default registry's language
// names. Ingest rules may name a language explicitly instead.
var extToLanguage = map[string]string{
	".go":  "Go",
	".py":  "Python",
	".js":  "JavaScript",
	".jsx": "JavaScript",
	".mjs": "JavaScript",
	".cs":  "C#",
	".txt": "Text",
	".md":  "Text",
}

// imageExtensions are the files registered as image link targets instead of
// being run through a script.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".svg":  true,
}

// IsImageFile reports whether path has an image extension.
func IsImageFile(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// langToGrammar maps lower-cased language names to tree-sitter grammars.
// Lazily initialized on first call via sync.Once.
var (
	langToGrammar map[string]*sitter.Language
	grammarsOnce  sync.Once
)

func initGrammars() {
	grammarsOnce.Do(func() {
		langToGrammar = map[string]*sitter.Language{
			"go":         golang.GetLanguage(),
			"python":     python.GetLanguage(),
			"javascript": javascript.GetLanguage(),
			"c#":         csharp.GetLanguage(),
			"csharp":     csharp.GetLanguage(),
		}
	})
}

// LanguageForFile returns the language name for a file path based on its
// extension. Returns ("", false) if the extension is not recognized.
func LanguageForFile(path string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	lang, ok := extToLanguage[ext]
	return lang, ok
}

// ParserForLanguage returns the tree-sitter grammar for a language name,
// ignoring case. Returns (nil, false) if there is none.
func ParserForLanguage(lang string) (*sitter.Language, bool) {
	initGrammars()
	l, ok := langToGrammar[strings.ToLower(lang)]
	return l, ok
}

// IngestScriptPath returns the conventional script for a language when no
// ingest rule names one, e.g. "ingest/go.risor" or "ingest/csharp.risor".
func IngestScriptPath(language string) string {
	name := strings.ToLower(language)
	if name == "c#" {
		name = "csharp"
	}
	return "ingest/" + name + ".risor"
}
