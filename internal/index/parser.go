// Package index turns a workspace into bounded, syntactically aligned code
// chunks and keeps the semantic retrieval index in sync with the files on
// disk. Parsing is tree-sitter based; a file that fails to parse is skipped
// with a warning, never fatal.
package index

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"bujji/internal/logging"
	"bujji/internal/types"
)

// Unit is one syntactic unit of a source file: a function, method, class or
// a run of top-level statements. Children are the nested units used for
// recursive splitting when the unit exceeds the chunk budget.
type Unit struct {
	Kind      string // function, method, class, type, statements
	Symbol    string
	StartByte int
	EndByte   int
	StartLine int
	EndLine   int
	Children  []Unit
}

// ParseResult holds everything extracted from one file.
type ParseResult struct {
	Language string
	Units    []Unit
	Edges    []types.SymbolEdge
}

// languageByExt maps file extensions to language tags.
var languageByExt = map[string]string{
	".go":  "go",
	".py":  "python",
	".js":  "javascript",
	".jsx": "javascript",
	".ts":  "typescript",
	".tsx": "typescript",
	".rs":  "rust",
}

// declKinds maps tree-sitter node types to unit kinds, per language.
var declKinds = map[string]map[string]string{
	"go": {
		"function_declaration": "function",
		"method_declaration":   "method",
		"type_declaration":     "type",
	},
	"python": {
		"function_definition": "function",
		"class_definition":    "class",
	},
	"javascript": {
		"function_declaration": "function",
		"class_declaration":    "class",
		"method_definition":    "method",
	},
	"typescript": {
		"function_declaration":  "function",
		"class_declaration":     "class",
		"method_definition":     "method",
		"interface_declaration": "type",
	},
	"rust": {
		"function_item": "function",
		"struct_item":   "type",
		"enum_item":     "type",
		"impl_item":     "class",
		"mod_item":      "class",
	},
}

// Parser wraps per-language tree-sitter parsers. Safe for concurrent use:
// each Parse call takes the language mutex for its parser.
type Parser struct {
	mu      sync.Mutex
	parsers map[string]*sitter.Parser
}

// NewParser creates parsers for every supported language.
func NewParser() *Parser {
	p := &Parser{parsers: make(map[string]*sitter.Parser)}
	for lang, sl := range map[string]*sitter.Language{
		"go":         golang.GetLanguage(),
		"python":     python.GetLanguage(),
		"javascript": javascript.GetLanguage(),
		"typescript": typescript.GetLanguage(),
		"rust":       rust.GetLanguage(),
	} {
		sp := sitter.NewParser()
		sp.SetLanguage(sl)
		p.parsers[lang] = sp
	}
	return p
}

// Close releases tree-sitter resources.
func (p *Parser) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sp := range p.parsers {
		sp.Close()
	}
}

// LanguageFor returns the language tag for a path, or "" if unsupported.
func LanguageFor(path string) string {
	return languageByExt[strings.ToLower(filepath.Ext(path))]
}

// Parse extracts syntactic units and graph edges from one file.
func (p *Parser) Parse(ctx context.Context, path string, content []byte) (*ParseResult, error) {
	lang := LanguageFor(path)
	if lang == "" {
		return nil, fmt.Errorf("unsupported file type: %s", path)
	}

	p.mu.Lock()
	sp := p.parsers[lang]
	tree, err := sp.ParseCtx(ctx, nil, content)
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("parse failed for %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		logging.IndexDebug("parse tree for %s contains errors; extracting what we can", path)
	}

	res := &ParseResult{Language: lang}
	res.Units = p.extractUnits(root, lang, content)
	res.Edges = p.extractEdges(root, lang, path, content, res.Units)
	return res, nil
}

// extractUnits walks the top level of the tree. Declaration nodes become
// named units (with nested declarations as children); consecutive other
// top-level nodes are grouped into "statements" units.
func (p *Parser) extractUnits(root *sitter.Node, lang string, content []byte) []Unit {
	kinds := declKinds[lang]
	var units []Unit

	var group *Unit
	flush := func() {
		if group != nil {
			units = append(units, *group)
			group = nil
		}
	}

	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		if node.Type() == "comment" {
			continue
		}
		if kind, ok := kinds[node.Type()]; ok {
			flush()
			units = append(units, p.unitFromNode(node, lang, kind, content))
			continue
		}
		if group == nil {
			group = &Unit{
				Kind:      "statements",
				StartByte: int(node.StartByte()),
				StartLine: int(node.StartPoint().Row) + 1,
			}
		}
		group.EndByte = int(node.EndByte())
		group.EndLine = int(node.EndPoint().Row) + 1
	}
	flush()
	return units
}

// unitFromNode builds a Unit and collects its nested declarations as
// children, giving the chunker recursive split boundaries.
func (p *Parser) unitFromNode(node *sitter.Node, lang, kind string, content []byte) Unit {
	u := Unit{
		Kind:      kind,
		Symbol:    symbolName(node, content),
		StartByte: int(node.StartByte()),
		EndByte:   int(node.EndByte()),
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
	}

	kinds := declKinds[lang]
	var collect func(n *sitter.Node, depth int)
	collect = func(n *sitter.Node, depth int) {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if ck, ok := kinds[child.Type()]; ok {
				u.Children = append(u.Children, p.unitFromNode(child, lang, ck, content))
				continue
			}
			// Declarations hide under bodies and blocks; don't descend
			// into expressions.
			if depth < 3 {
				collect(child, depth+1)
			}
		}
	}
	collect(node, 0)

	sort.Slice(u.Children, func(i, j int) bool { return u.Children[i].StartByte < u.Children[j].StartByte })
	return u
}

// symbolName pulls the declared name out of a node, best effort.
func symbolName(node *sitter.Node, content []byte) string {
	if name := node.ChildByFieldName("name"); name != nil {
		return name.Content(content)
	}
	// Go type_declaration wraps type_spec; rust impl_item has a type field.
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() == "type_spec" || child.Type() == "type_identifier" {
			if name := child.ChildByFieldName("name"); name != nil {
				return name.Content(content)
			}
			if child.Type() == "type_identifier" {
				return child.Content(content)
			}
		}
	}
	return ""
}

// importNodeTypes are the per-language node types that introduce imports.
var importNodeTypes = map[string]map[string]bool{
	"go":         {"import_declaration": true},
	"python":     {"import_statement": true, "import_from_statement": true},
	"javascript": {"import_statement": true},
	"typescript": {"import_statement": true},
	"rust":       {"use_declaration": true},
}

// extractEdges walks the whole tree once collecting import and call edges.
func (p *Parser) extractEdges(root *sitter.Node, lang, path string, content []byte, units []Unit) []types.SymbolEdge {
	var edges []types.SymbolEdge

	enclosing := func(b int) string {
		for _, u := range units {
			if b >= u.StartByte && b < u.EndByte {
				return u.Symbol
			}
		}
		return ""
	}

	imports := importNodeTypes[lang]
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		t := n.Type()
		switch {
		case imports[t]:
			for _, target := range importTargets(n, lang, content) {
				edges = append(edges, types.SymbolEdge{Kind: "imports", Path: path, ToSymbol: target})
			}
		case t == "call_expression" || t == "call":
			if callee := calleeName(n, content); callee != "" {
				edges = append(edges, types.SymbolEdge{
					Kind:       "calls",
					Path:       path,
					FromSymbol: enclosing(int(n.StartByte())),
					ToSymbol:   callee,
				})
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return edges
}

// importTargets extracts imported module names from an import node.
func importTargets(n *sitter.Node, lang string, content []byte) []string {
	var targets []string
	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		switch node.Type() {
		case "interpreted_string_literal", "string", "string_fragment":
			if s := strings.Trim(node.Content(content), "\"'`"); s != "" {
				targets = append(targets, s)
				return
			}
		case "dotted_name", "scoped_identifier", "identifier":
			if lang == "python" || lang == "rust" {
				targets = append(targets, node.Content(content))
				return
			}
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			walk(node.NamedChild(i))
		}
	}
	walk(n)

	// Dedup while preserving order.
	seen := make(map[string]bool, len(targets))
	out := targets[:0]
	for _, t := range targets {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// calleeName extracts the called function's name from a call node.
func calleeName(n *sitter.Node, content []byte) string {
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	switch fn.Type() {
	case "identifier":
		return fn.Content(content)
	case "selector_expression", "attribute", "member_expression", "field_expression":
		// Keep only the final selector: x.Foo() -> Foo
		parts := strings.Split(fn.Content(content), ".")
		return parts[len(parts)-1]
	}
	return ""
}
