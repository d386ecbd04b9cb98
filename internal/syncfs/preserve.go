// Package syncfs implements the smart-sync publish step and workspace
// cleanup described in spec §4.5: copying a build's source directory into
// one or more production target paths while never touching a configurable
// preserve set, and safely tearing down the per-deployment workspace.
package syncfs

import (
	"strings"

	"github.com/gobwas/glob"
)

// FixedPreservePatterns is the system-wide preserve list (§4.5.1), unioned
// with a project's SyncIgnorePatterns to form the full preserve set.
var FixedPreservePatterns = []string{
	// environment / config
	".env", ".env.*", ".user.ini", ".htaccess", "web.config", "php.ini", "php-fpm.conf", ".deploy-center",
	// ACME / TLS material
	".well-known/**", "ssl/**", "certs/**",
	// dependency artefacts and lock files
	"node_modules/**", "package-lock.json", "yarn.lock", "pnpm-lock.yaml", "composer.lock",
	// user data
	"uploads/**", "storage/**", "public/uploads/**", "public/storage/**",
	// caches and temp
	"Cache/**", "cache/**", "tmp/**", "temp/**",
	// logs
	"Logs/**", "logs/**", "*.log", "*-debug.log",
	// embedded databases
	"*.sqlite", "*.sqlite3", "*.db",
	// sessions
	"sessions/**",
	// backups
	"backups/**", "*.bak", "*.backup",
	// OS junk
	".DS_Store", "Thumbs.db", "desktop.ini",
	// VCS
	".git/**", ".svn/**", ".hg/**",
}

// Matcher decides whether a normalised, slash-separated relative path is in
// the preserve set (§4.5.1 "Pattern semantics").
type Matcher struct {
	patterns []compiledPattern
}

type compiledPattern struct {
	raw      string
	g        glob.Glob
	isTree   bool // pattern ended in "/**": matches the dir itself + descendants
	treeRoot string
}

// NewMatcher compiles the fixed preserve list plus the project's additional
// SyncIgnorePatterns into one Matcher.
func NewMatcher(projectPatterns []string) *Matcher {
	all := make([]string, 0, len(FixedPreservePatterns)+len(projectPatterns))
	all = append(all, FixedPreservePatterns...)
	all = append(all, projectPatterns...)

	m := &Matcher{}
	for _, p := range all {
		m.patterns = append(m.patterns, compile(p))
	}
	return m
}

func compile(pattern string) compiledPattern {
	pattern = toSlash(pattern)
	if strings.HasSuffix(pattern, "/**") {
		root := strings.TrimSuffix(pattern, "/**")
		return compiledPattern{raw: pattern, isTree: true, treeRoot: root}
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		// An uncompilable pattern can never match; callers are not meant to
		// author malformed SyncIgnorePatterns, but a bad pattern must not
		// crash the sync — it just preserves nothing extra.
		return compiledPattern{raw: pattern}
	}
	return compiledPattern{raw: pattern, g: g}
}

func toSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// Match reports whether relPath (forward-slash, relative to the sync root)
// is in the preserve set.
func (m *Matcher) Match(relPath string) bool {
	relPath = toSlash(relPath)
	for _, p := range m.patterns {
		if p.isTree {
			if relPath == p.treeRoot || strings.HasPrefix(relPath, p.treeRoot+"/") {
				return true
			}
			continue
		}
		if p.g == nil {
			continue
		}
		if p.g.Match(relPath) {
			return true
		}
		// "Otherwise the pattern matches exactly or any descendant
		// (directory prefix match)" — glob with '/' separator only
		// matches exact segments, so also check directory-prefix form
		// for plain (non-* ) patterns.
		if !strings.ContainsAny(p.raw, "*") && (relPath == p.raw || strings.HasPrefix(relPath, p.raw+"/")) {
			return true
		}
	}
	return false
}
