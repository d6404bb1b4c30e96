package mime

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// sourceTypes refines "text/plain" for source files, which content sniffing
// cannot tell apart.
var sourceTypes = map[string]string{
	".md":     "text/markdown",
	".yaml":   "text/yaml",
	".yml":    "text/yaml",
	".json":   "application/json",
	".css":    "text/css",
	".scss":   "text/x-scss",
	".js":     "text/javascript",
	".mjs":    "text/javascript",
	".jsx":    "text/jsx",
	".ts":     "text/typescript",
	".tsx":    "text/tsx",
	".vue":    "text/x-vue",
	".svelte": "text/x-svelte",
	".go":     "text/x-go",
	".py":     "text/x-python",
	".rs":     "text/x-rust",
	".rb":     "text/x-ruby",
	".java":   "text/x-java",
	".kt":     "text/x-kotlin",
	".swift":  "text/x-swift",
	".c":      "text/x-c",
	".h":      "text/x-c",
	".cpp":    "text/x-c++",
	".hpp":    "text/x-c++",
	".sh":     "text/x-shellscript",
	".sql":    "text/x-sql",
	".toml":   "text/x-toml",
}

// plainTypes are the names that get a text type even when empty.
var plainTypes = map[string]string{
	"Dockerfile": "text/x-dockerfile",
	"Makefile":   "text/x-makefile",
}

const fallback = "text/plain; charset=utf-8"

// Detect returns the MIME type of a project file from its content, refined by
// its name when the content reads as plain text.
func Detect(filename string, content []byte) string {
	base := filepath.Base(filename)
	if t, ok := plainTypes[base]; ok {
		return t + "; charset=utf-8"
	}
	if len(content) == 0 {
		if t, ok := sourceTypes[strings.ToLower(filepath.Ext(base))]; ok {
			return t + "; charset=utf-8"
		}
		return fallback
	}

	detected := mimetype.Detect(content).String()
	if strings.HasPrefix(detected, "text/plain") {
		if t, ok := sourceTypes[strings.ToLower(filepath.Ext(base))]; ok {
			return strings.Replace(detected, "text/plain", t, 1)
		}
	}
	return detected
}
