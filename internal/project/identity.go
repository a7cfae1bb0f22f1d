// Package project resolves the stable project identity: a key built from the
// git origin, root commit and in-repo relative path (falling back to the
// absolute path), digested into a short project_id. An index maps identity
// keys to project ids so the id survives directory renames.
package project

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"mindincarnation/internal/store"
)

// Identity describes how a project root was identified.
type Identity struct {
	Origin     string `json:"origin,omitempty"`
	RootCommit string `json:"root_commit,omitempty"`
	RelPath    string `json:"rel_path,omitempty"`
	AbsPath    string `json:"abs_path,omitempty"`
}

// Key returns the identity key string.
func (id Identity) Key() string {
	if id.Origin != "" || id.RootCommit != "" {
		return fmt.Sprintf("git:%s@%s:%s", id.Origin, id.RootCommit, id.RelPath)
	}
	return "path:" + id.AbsPath
}

// Resolve inspects root and builds its identity. A non-git directory falls
// back to the absolute path.
func Resolve(root string) Identity {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}

	top := gitOutput(abs, "rev-parse", "--show-toplevel")
	if top == "" {
		return Identity{AbsPath: abs}
	}

	origin := gitOutput(abs, "config", "--get", "remote.origin.url")
	rootCommit := firstLine(gitOutput(abs, "rev-list", "--max-parents=0", "HEAD"))
	rel, err := filepath.Rel(top, abs)
	if err != nil {
		rel = "."
	}
	if origin == "" && rootCommit == "" {
		return Identity{AbsPath: abs}
	}
	return Identity{
		Origin:     origin,
		RootCommit: rootCommit,
		RelPath:    filepath.ToSlash(rel),
		AbsPath:    abs,
	}
}

func gitOutput(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// digest returns the short project id for an identity key.
func digest(identityKey string) string {
	h := sha256.Sum256([]byte(identityKey))
	return "p_" + hex.EncodeToString(h[:6])
}

// indexFile is the on-disk identity_key -> project_id mapping.
type indexFile struct {
	Projects map[string]string `json:"projects"`
}

// ResolveID maps the identity key to a project id through the index at
// indexPath, registering a new mapping on first sight.
func ResolveID(indexPath string, id Identity) (string, error) {
	key := id.Key()

	var idx indexFile
	if err := store.ReadJSON(indexPath, &idx); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("project index unreadable: %w", err)
	}
	if idx.Projects == nil {
		idx.Projects = make(map[string]string)
	}
	if pid, ok := idx.Projects[key]; ok {
		return pid, nil
	}

	pid := digest(key)
	idx.Projects[key] = pid
	if err := store.WriteJSONAtomic(indexPath, idx); err != nil {
		return "", fmt.Errorf("project index write failed: %w", err)
	}
	return pid, nil
}
