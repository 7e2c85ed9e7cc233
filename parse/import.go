package parse

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/robotino04/rsharpc/ast"
	"github.com/robotino04/rsharpc/errs"
	"github.com/robotino04/rsharpc/token"
)

// File loads and parses path, resolving its imports against stdlib for
// std:: paths and against path's own directory otherwise.
func File(path, stdlib string) (*ast.Program, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseWithCache(path, string(source), stdlib, newCache())
}

// parsingCache remembers which identifiers have already been imported
// from which file, so diamond-shaped import graphs splice every
// function in exactly once.
type parsingCache struct {
	wildcard map[string]bool
	named    map[string]map[string]bool
}

func newCache() *parsingCache {
	return &parsingCache{
		wildcard: make(map[string]bool),
		named:    make(map[string]map[string]bool),
	}
}

func (c *parsingCache) contains(path, ident string) bool {
	return c.wildcard[path] || c.named[path][ident]
}

func (c *parsingCache) add(path, ident string) {
	if c.named[path] == nil {
		c.named[path] = make(map[string]bool)
	}
	c.named[path][ident] = true
}

// parseImport consumes one import statement and returns the program
// items it pulls in:
//
//	import fib, fact @ examples::math;
//	import * @ std::io;
func (p *parser) parseImport() (*ast.Program, error) {
	p.advance() // 'import'

	importEverything := false
	var names []string
	if p.accept(token.Star) {
		importEverything = true
	} else {
		for {
			nameTok, err := p.expect(token.Ident, "identifier to import")
			if err != nil {
				return nil, p.fail(err)
			}
			names = append(names, nameTok.Lexeme)
			if !p.accept(token.Comma) {
				break
			}
		}
	}

	atTok, err := p.expect(token.At, "'@' before import path")
	if err != nil {
		return nil, p.fail(err)
	}

	var components []string
	for {
		part, err := p.expect(token.Ident, "import path component")
		if err != nil {
			return nil, p.fail(err)
		}
		components = append(components, part.Lexeme)
		if !p.accept(token.ColonColon) {
			break
		}
	}
	if _, err := p.expect(token.Semicolon, "';' after import"); err != nil {
		return nil, p.fail(err)
	}

	path := p.resolveImportPath(components)

	// Drop identifiers this file already contributed.
	if !importEverything {
		kept := names[:0]
		for _, n := range names {
			if !p.cache.contains(path, n) {
				kept = append(kept, n)
			}
		}
		names = kept
		if len(names) == 0 {
			return &ast.Program{}, nil
		}
	}
	if p.cache.wildcard[path] {
		return &ast.Program{}, nil
	}
	if importEverything {
		p.cache.wildcard[path] = true
	} else {
		for _, n := range names {
			p.cache.add(path, n)
		}
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return nil, p.fail(errs.New(atTok.Pos, atTok.LineSrc, "cannot read imported file %q: %s", path, err))
	}
	imported, err := parseWithCache(path, string(source), p.stdlib, p.cache)
	if err != nil {
		if list, ok := err.(*errs.List); ok {
			p.errors.Errors = append(p.errors.Errors, list.Errors...)
			return imported, nil
		}
		return nil, p.fail(errs.New(atTok.Pos, atTok.LineSrc, "in imported file %q: %s", path, err))
	}

	if importEverything {
		already := p.cache.named[path]
		if len(already) == 0 {
			return imported, nil
		}
		rest := &ast.Program{Imports: imported.Imports}
		for _, fd := range imported.Functions {
			if !already[fd.Desc.Name] {
				rest.Functions = append(rest.Functions, fd)
			}
		}
		for _, g := range imported.Globals {
			if !already[g.Desc.Name] {
				rest.Globals = append(rest.Globals, g)
			}
		}
		return rest, nil
	}

	filtered := &ast.Program{Imports: imported.Imports}
	for _, fd := range imported.Functions {
		if containsString(names, fd.Desc.Name) {
			filtered.Functions = append(filtered.Functions, fd)
		}
	}
	for _, g := range imported.Globals {
		if containsString(names, g.Desc.Name) {
			filtered.Globals = append(filtered.Globals, g)
		}
	}
	return filtered, nil
}

func (p *parser) resolveImportPath(components []string) string {
	root := filepath.Dir(p.filename)
	if components[0] == "std" && p.stdlib != "" {
		root = p.stdlib
		components = components[1:]
	}
	return filepath.Join(root, strings.Join(components, string(filepath.Separator))+".rs")
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
