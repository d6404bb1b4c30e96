package path

import (
	"errors"
	gopath "path"
	"strings"
)

var (
	ErrEmptyPath     = errors.New("path cannot be empty")
	ErrInvalidPath   = errors.New("path format is invalid")
	ErrPathTraversal = errors.New("path contains directory traversal")
)

const maxPathLen = 1024

// ValidatePath checks a project file path as sent by an editor client.
func ValidatePath(p string) error {
	if strings.TrimSpace(p) == "" {
		return ErrEmptyPath
	}
	if len(p) > maxPathLen || strings.ContainsAny(p, "\x00\\") {
		return ErrInvalidPath
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return ErrPathTraversal
		}
	}
	if strings.HasSuffix(p, "/") {
		// directories are implicit
		return ErrInvalidPath
	}
	return nil
}

// NormalizePath validates p and returns its canonical form: relative to the
// project root, without "." segments or repeated slashes.
//
//	"/src//main.go" -> "src/main.go"
//	"./README.md"   -> "README.md"
func NormalizePath(p string) (string, error) {
	if err := ValidatePath(p); err != nil {
		return "", err
	}
	clean := strings.TrimPrefix(gopath.Clean("/"+p), "/")
	if clean == "" {
		return "", ErrEmptyPath
	}
	return clean, nil
}

// SplitFilePath splits a normalized file path into its directory and name.
//
//	"src/main.go" -> "src", "main.go"
//	"main.go"     -> "", "main.go"
func SplitFilePath(p string) (dir, name string) {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}
