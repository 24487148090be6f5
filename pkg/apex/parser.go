package apex

import (
	"context"
	"errors"
	"fmt"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/jmylchreest/apexlens/internal/logging"
	"github.com/jmylchreest/apexlens/pkg/grammar"
)

// ErrNoTree is returned when tree-sitter produces no tree at all.
var ErrNoTree = errors.New("apex: parser returned no tree")

// SyntaxError reports the first ERROR node of a strict parse.
type SyntaxError struct {
	Line int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("apex: syntax error at line %d", e.Line)
}

// TreeProvider turns source text into a syntax tree.
type TreeProvider interface {
	Parse(source string) (*Node, error)
}

// TreeProviderFunc adapts a function to TreeProvider.
type TreeProviderFunc func(source string) (*Node, error)

// Parse calls f(source).
func (f TreeProviderFunc) Parse(source string) (*Node, error) { return f(source) }

// Parser is a TreeProvider backed by tree-sitter. It is safe for concurrent
// use: every Parse call gets its own tree-sitter parser.
type Parser struct {
	lang    *tree_sitter.Language
	dialect string
	strict  bool
}

// Option configures a Parser.
type Option func(*parserConfig)

type parserConfig struct {
	strict       bool
	grammarName  string
	fallbackJava bool
}

// WithStrict makes any ERROR node fail the parse with *SyntaxError.
// Tolerant parsing (the default) keeps partial trees.
func WithStrict(strict bool) Option {
	return func(c *parserConfig) { c.strict = strict }
}

// WithGrammar selects the grammar to load. Defaults to grammar.Apex.
func WithGrammar(name string) Option {
	return func(c *parserConfig) {
		if name != "" {
			c.grammarName = name
		}
	}
}

// WithJavaFallback parses with the built-in Java grammar when the Apex
// grammar cannot be loaded. Inline [SELECT ...] and [FIND ...] literals are
// recovered from the source text in that mode; DML statements are not Java
// and end up in ERROR nodes, so only Database.* DML calls are detected.
func WithJavaFallback(enabled bool) Option {
	return func(c *parserConfig) { c.fallbackJava = enabled }
}

// NewParser loads the grammar through loader and returns a Parser.
func NewParser(ctx context.Context, loader grammar.Loader, opts ...Option) (*Parser, error) {
	cfg := parserConfig{grammarName: grammar.Apex}
	for _, o := range opts {
		o(&cfg)
	}

	lang, err := loader.Load(ctx, cfg.grammarName)
	if err == nil {
		return &Parser{lang: lang, dialect: cfg.grammarName, strict: cfg.strict}, nil
	}
	if !cfg.fallbackJava || cfg.grammarName == grammar.BuiltinJava {
		return nil, fmt.Errorf("loading %s grammar: %w", cfg.grammarName, err)
	}

	logging.Named("apex").Warnw("apex grammar unavailable, falling back to java", "grammar", cfg.grammarName, "error", err)
	lang, jerr := loader.Load(ctx, grammar.BuiltinJava)
	if jerr != nil {
		return nil, fmt.Errorf("loading %s grammar: %w", cfg.grammarName, errors.Join(err, jerr))
	}
	return &Parser{lang: lang, dialect: grammar.BuiltinJava, strict: cfg.strict}, nil
}

// NewParserForLanguage wraps an already loaded language.
func NewParserForLanguage(lang *tree_sitter.Language, dialect string, strict bool) *Parser {
	return &Parser{lang: lang, dialect: dialect, strict: strict}
}

// Dialect is the name of the grammar in use.
func (p *Parser) Dialect() string { return p.dialect }

// Parse implements TreeProvider.
func (p *Parser) Parse(source string) (*Node, error) {
	parser := tree_sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(p.lang); err != nil {
		return nil, fmt.Errorf("apex: setting %s language: %w", p.dialect, err)
	}

	content := []byte(source)
	tree := parser.Parse(content, nil)
	if tree == nil {
		return nil, ErrNoTree
	}
	defer tree.Close()

	tsRoot := tree.RootNode()
	cursor := tsRoot.Walk()
	defer cursor.Close()
	root := convert(cursor)
	if p.dialect == grammar.BuiltinJava {
		graftInlineQueries(root, source)
	}

	if tsRoot.HasError() {
		line := firstErrorLine(root)
		if p.strict {
			return nil, &SyntaxError{Line: line}
		}
		logging.Named("apex").Debugw("partial parse", "dialect", p.dialect, "first_error_line", line)
	}
	return root, nil
}

// convert copies the cursor's current node and its named descendants.
// ERROR and MISSING nodes are kept so callers can see where parsing failed.
func convert(cursor *tree_sitter.TreeCursor) *Node {
	tsn := cursor.Node()
	n := &Node{
		Type:  tsn.Kind(),
		Field: cursor.FieldName(),
		Start: int(tsn.StartByte()),
		End:   int(tsn.EndByte()),
		Line:  int(tsn.StartPosition().Row) + 1,
	}
	n.Kind = KindOf(n.Type)
	if tsn.IsError() || tsn.IsMissing() {
		n.Kind = KindError
	}

	if cursor.GotoFirstChild() {
		for {
			child := cursor.Node()
			if child.IsNamed() || child.IsError() || child.IsMissing() {
				n.Children = append(n.Children, convert(cursor))
			}
			if !cursor.GotoNextSibling() {
				break
			}
		}
		cursor.GotoParent()
	}
	return n
}

func firstErrorLine(root *Node) int {
	line := 0
	root.Inspect(func(n *Node) bool {
		if line != 0 {
			return false
		}
		if n.Kind == KindError {
			line = n.Line
			return false
		}
		return true
	})
	return line
}
