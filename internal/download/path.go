package download

import (
	"fmt"
	"path/filepath"
	"strings"
)

var unsafeChars = strings.NewReplacer(
	`\`, "", "/", "", ":", "", "*", "", "?", "",
	`"`, "", "<", "", ">", "", "|", "",
)

// Sanitize strips the characters that are illegal in a path segment on any
// common filesystem, along with control characters.
func Sanitize(name string) string {
	clean := unsafeChars.Replace(name)
	clean = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, clean)
	return strings.TrimSpace(clean)
}

// FileName builds "{title} - {author}.{ext}". An empty author drops the
// separator and an empty title becomes "track".
func FileName(title, author, ext string) string {
	title = Sanitize(title)
	author = Sanitize(author)
	if title == "" {
		title = "track"
	}
	name := title
	if author != "" {
		name = title + " - " + author
	}
	// Leading dots would hide the file on unix.
	name = strings.TrimLeft(name, ".")
	if name == "" {
		name = "track"
	}
	return name + "." + strings.TrimPrefix(ext, ".")
}

// safeOutputPath joins name onto baseDir and refuses results that escape it.
func safeOutputPath(baseDir, name string) (string, error) {
	baseClean := filepath.Clean(baseDir)
	combined := filepath.Join(baseClean, name)
	rel, err := filepath.Rel(baseClean, combined)
	if err != nil {
		return "", fmt.Errorf("resolve output path relative to %q: %w", baseClean, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("output path escapes base directory %q", baseClean)
	}
	return combined, nil
}
