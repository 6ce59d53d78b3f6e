package review

import (
	"crypto/sha256"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
)

// aliasPrefixes are path prefixes an OS may add to the same directory.
// On macOS /var and /tmp resolve through /private, and the data volume is
// also reachable under /System/Volumes/Data.
var aliasPrefixes = []string{"/private", "/System/Volumes/Data"}

// NormalizeText trims, lowercases and collapses internal whitespace.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Fingerprint returns a stable hex digest identifying a finding by content.
// Title and body are normalized, so findings that differ only in whitespace or
// case share a fingerprint; any change to pass, severity, file or line does not.
func Fingerprint(f Finding) string {
	data := strings.Join([]string{
		string(f.Pass),
		string(f.Severity),
		strings.TrimSpace(f.File),
		strconv.Itoa(f.Line),
		NormalizeText(f.Title),
		NormalizeText(f.Body),
	}, "\x1f")
	h := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", h[:])
}

// CanonicalKey returns the path-tolerant fallback identity of a finding:
// its file relative to root, its line (when positive) and its normalized
// title. It returns "" when none of the three carry any signal.
func CanonicalKey(f Finding, root string) string {
	return CanonicalKeyOf(f.File, f.Line, f.Title, root)
}

// CanonicalKeyOf is CanonicalKey over raw fields, for records that are not
// Findings (e.g. remote thread metadata).
func CanonicalKeyOf(file string, line int, title, root string) string {
	rel := RelativePath(file, root)
	normTitle := NormalizeText(title)
	if rel == "" && line <= 0 && normTitle == "" {
		return ""
	}
	lineStr := ""
	if line > 0 {
		lineStr = strconv.Itoa(line)
	}
	return rel + "|" + lineStr + "|" + normTitle
}

// CanonicalDigest hashes a canonical key. Comments carry the digest rather
// than the key so a title that had to be redacted is never published.
func CanonicalDigest(canon string) string {
	if canon == "" {
		return ""
	}
	h := sha256.Sum256([]byte(canon))
	return fmt.Sprintf("%x", h[:])
}

// RelativePath expresses file relative to root using forward slashes.
// When file lies outside root, known aliasing prefixes are stripped from both
// sides and the match retried; failing that, the slash-normalized input is
// returned unchanged.
func RelativePath(file, root string) string {
	file = toSlash(strings.TrimSpace(file))
	if file == "" {
		return ""
	}
	if !path.IsAbs(file) {
		return strings.TrimPrefix(path.Clean(file), "./")
	}
	root = toSlash(strings.TrimSpace(root))
	if root == "" {
		return file
	}
	for _, r := range aliasVariants(root) {
		for _, f := range aliasVariants(file) {
			if rel, ok := relUnder(r, f); ok {
				return rel
			}
		}
	}
	return file
}

func toSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// aliasVariants returns p followed by p with each matching alias prefix removed.
func aliasVariants(p string) []string {
	out := []string{path.Clean(p)}
	for _, prefix := range aliasPrefixes {
		if strings.HasPrefix(p, prefix+"/") {
			out = append(out, path.Clean(strings.TrimPrefix(p, prefix)))
		}
	}
	return out
}

func relUnder(root, p string) (string, bool) {
	if p == root {
		return ".", true
	}
	if root == "/" {
		return strings.TrimPrefix(p, "/"), true
	}
	if strings.HasPrefix(p, root+"/") {
		return p[len(root)+1:], true
	}
	return "", false
}

// FingerprintKey joins the sorted fingerprints of findings into one value, so
// two rounds with the same set of findings produce the same key.
func FingerprintKey(findings []Finding) string {
	fps := make([]string, 0, len(findings))
	for _, f := range findings {
		fps = append(fps, Fingerprint(f))
	}
	sort.Strings(fps)
	return strings.Join(fps, ",")
}
