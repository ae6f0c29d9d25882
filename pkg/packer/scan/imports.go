package scan

import (
	"fmt"
	"sync"

	ts "github.com/tree-sitter/go-tree-sitter"
	tsTypescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// importsQuery captures static imports, re-exports and dynamic imports
// with a literal specifier.
const importsQuery = `
(import_statement
  source: (string (string_fragment) @import.spec))

(export_statement
  source: (string (string_fragment) @reexport.spec))

(call_expression
  function: (import)
  arguments: (arguments (string (string_fragment) @dynamicImport.spec)))
`

var typescript = ts.NewLanguage(tsTypescript.LanguageTypescript())

var parserPool = sync.Pool{
	New: func() any {
		parser := ts.NewParser()
		if err := parser.SetLanguage(typescript); err != nil {
			panic("failed to set TypeScript language: " + err.Error())
		}
		return parser
	},
}

var (
	queryOnce sync.Once
	query     *ts.Query
	queryErr  error
)

func importQuery() (*ts.Query, error) {
	queryOnce.Do(func() {
		q, qerr := ts.NewQuery(typescript, importsQuery)
		if qerr != nil {
			queryErr = fmt.Errorf("failed to parse imports query: %w", qerr)
			return
		}
		query = q
	})
	return query, queryErr
}

// SyntaxError reports a module that does not parse
type SyntaxError struct {
	Line   int
	Column int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d:%d", e.Line, e.Column)
}

// ExtractImports returns the import specifiers of a TypeScript or JavaScript
// module in source order, without duplicates.
func ExtractImports(content []byte) ([]string, error) {
	q, err := importQuery()
	if err != nil {
		return nil, err
	}

	parser := parserPool.Get().(*ts.Parser)
	defer func() {
		parser.Reset()
		parserPool.Put(parser)
	}()

	tree := parser.Parse(content, nil)
	if tree == nil {
		return nil, fmt.Errorf("failed to parse content")
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		if pos, ok := firstError(root); ok {
			return nil, &SyntaxError{Line: int(pos.Row) + 1, Column: int(pos.Column) + 1}
		}
		return nil, &SyntaxError{Line: 1, Column: 1}
	}

	cursor := ts.NewQueryCursor()
	defer cursor.Close()

	seen := make(map[string]struct{})
	specifiers := []string{}
	matches := cursor.Matches(q, root, content)
	for {
		match := matches.Next()
		if match == nil {
			break
		}
		for _, capture := range match.Captures {
			spec := capture.Node.Utf8Text(content)
			if _, ok := seen[spec]; ok {
				continue
			}
			seen[spec] = struct{}{}
			specifiers = append(specifiers, spec)
		}
	}
	return specifiers, nil
}

func firstError(node *ts.Node) (ts.Point, bool) {
	if node.IsError() || node.IsMissing() {
		return node.StartPosition(), true
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil || !child.HasError() {
			continue
		}
		if pos, ok := firstError(child); ok {
			return pos, true
		}
	}
	return ts.Point{}, false
}
