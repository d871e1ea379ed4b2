// Package pathresolve splits POSIX-style pathnames into components and
// walks the directory-entry cache to resolve them, in either full-lookup or
// parent-lookup mode. Grounded in original_source's skipelem/namex/namei,
// adapted so that rather than consulting a process-wide current-directory
// global, the caller's working-directory entry is an explicit parameter.
package pathresolve

import (
	"errors"

	"github.com/arrowfs/fat32/dirent"
)

// ErrNotFound is returned when a path component (or the final path itself)
// names no directory entry. Declared locally, rather than imported from the
// root package, because pathresolve sits below it in the dependency graph.
var ErrNotFound = errors.New("pathresolve: no such file or directory")

// ErrNotADirectory is returned when a non-final path component resolves to
// an entry that isn't a directory.
var ErrNotADirectory = errors.New("pathresolve: not a directory")

// Resolver walks paths against one mounted volume's entry cache.
type Resolver struct {
	cache *dirent.Cache
}

// New creates a Resolver over cache.
func New(cache *dirent.Cache) *Resolver {
	return &Resolver{cache: cache}
}

// skipelem extracts the next path element from path, returning the element,
// the remainder of path after it (with any run of leading slashes
// stripped), and whether an element was found. Mirrors original_source's
// skipelem: truncates elements longer than 255 bytes to 255, which
// downstream lookups will then simply fail to find.
func skipelem(path string) (elem string, rest string, ok bool) {
	i := 0
	for i < len(path) && path[i] == '/' {
		i++
	}
	if i == len(path) {
		return "", "", false
	}
	start := i
	for i < len(path) && path[i] != '/' {
		i++
	}
	elem = path[start:i]
	if len(elem) > 255 {
		elem = elem[:255]
	}
	for i < len(path) && path[i] == '/' {
		i++
	}
	return elem, path[i:], true
}

// GetEntry resolves path fully, starting at root if path begins with '/' or
// at cwd otherwise. Returns ErrNotFound if any component is missing, or
// ErrNotADirectory if a non-final component isn't a directory.
func (r *Resolver) GetEntry(path string, root, cwd *dirent.Entry) (*dirent.Entry, error) {
	return r.resolve(path, root, cwd, false)
}

// GetParent resolves every component of path except the last, returning the
// parent directory entry (still referenced) and the final component name.
// When exactly one token remains, the walk stops without consuming it and
// returns the current directory.
func (r *Resolver) GetParent(path string, root, cwd *dirent.Entry) (*dirent.Entry, string, error) {
	name, err := r.lastComponent(path)
	if err != nil || name == "" {
		return nil, "", err
	}
	parent, err := r.resolve(path, root, cwd, true)
	return parent, name, err
}

func (r *Resolver) lastComponent(path string) (string, error) {
	var last string
	rest := path
	for {
		elem, next, ok := skipelem(rest)
		if !ok {
			break
		}
		last = elem
		rest = next
	}
	return last, nil
}

// resolve implements the shared walk for GetEntry and GetParent. parent
// selects parent-lookup mode.
func (r *Resolver) resolve(path string, root, cwd *dirent.Entry, parent bool) (*dirent.Entry, error) {
	var cur *dirent.Entry
	if len(path) > 0 && path[0] == '/' {
		cur = r.cache.Edup(root)
	} else {
		cur = r.cache.Edup(cwd)
	}

	rest := path
	for {
		elem, next, ok := skipelem(rest)
		if !ok {
			break
		}

		r.cache.Elock(cur)
		if !cur.IsDir() {
			r.cache.Eunlock(cur)
			if err := r.cache.Eput(cur); err != nil {
				return nil, err
			}
			return nil, ErrNotADirectory
		}

		if parent && next == "" {
			r.cache.Eunlock(cur)
			return cur, nil
		}

		next2, err := r.cache.LookupDir(cur, elem)
		r.cache.Eunlock(cur)
		if err != nil {
			if perr := r.cache.Eput(cur); perr != nil {
				return nil, perr
			}
			return nil, err
		}
		if next2 == nil {
			if perr := r.cache.Eput(cur); perr != nil {
				return nil, perr
			}
			return nil, ErrNotFound
		}

		if err := r.cache.Eput(cur); err != nil {
			return nil, err
		}
		cur = next2
		rest = next
	}

	if parent {
		// Path had no components at all (e.g. "" or "/"); nothing to split
		// off as a final name.
		if err := r.cache.Eput(cur); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return cur, nil
}
