package main

import (
	"bufio"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"regexp"
	"strconv"
	"strings"
)

var (
	sqlKeywordPattern = regexp.MustCompile(`(?i)\b(select|insert|update|delete|with|create|alter)\b`)
	uuidMarkerPattern = regexp.MustCompile(`^--sql ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)
)

type violation struct {
	file    string
	name    string
	line    int
	message string
}

// linter remembers every marker it has seen so reused ids are reported.
type linter struct {
	seen       map[string]string
	violations []violation
}

func newLinter() *linter {
	return &linter{seen: map[string]string{}}
}

// lintGo checks SQL string constants and variables in a Go file. Constants
// built by concatenation are judged by their leftmost literal.
func (l *linter) lintGo(path string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.SkipObjectResolution)
	if err != nil {
		return err
	}
	ast.Inspect(file, func(n ast.Node) bool {
		vs, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for i, value := range vs.Values {
			bl := leadingLiteral(value)
			if bl == nil {
				continue
			}
			raw, err := unquote(bl.Value)
			if err != nil || !sqlKeywordPattern.MatchString(sqlBody(value, raw)) {
				continue
			}
			name := ""
			if i < len(vs.Names) {
				name = vs.Names[i].Name
			}
			l.check(path, name, fset.Position(bl.Pos()).Line, firstLine(raw))
		}
		return true
	})
	return nil
}

// lintSQL checks that a migration file opens with a marker line.
func (l *linter) lintSQL(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		l.check(path, "", line, text)
		return nil
	}
	if err := sc.Err(); err != nil {
		return err
	}
	l.violations = append(l.violations, violation{file: path, line: 1, message: "empty migration"})
	return nil
}

func (l *linter) check(path, name string, line int, marker string) {
	m := uuidMarkerPattern.FindStringSubmatch(marker)
	if m == nil {
		l.violations = append(l.violations, violation{
			file:    path,
			name:    name,
			line:    line,
			message: "missing or invalid --sql <uuid> marker",
		})
		return
	}
	where := path + ":" + strconv.Itoa(line)
	if prev, dup := l.seen[m[1]]; dup {
		l.violations = append(l.violations, violation{
			file:    path,
			name:    name,
			line:    line,
			message: "marker " + m[1] + " already used at " + prev,
		})
		return
	}
	l.seen[m[1]] = where
}

func leadingLiteral(expr ast.Expr) *ast.BasicLit {
	for {
		switch e := expr.(type) {
		case *ast.BasicLit:
			if e.Kind != token.STRING {
				return nil
			}
			return e
		case *ast.BinaryExpr:
			if e.Op != token.ADD {
				return nil
			}
			expr = e.X
		case *ast.ParenExpr:
			expr = e.X
		default:
			return nil
		}
	}
}

// sqlBody joins the literal parts of a concatenation for keyword detection.
func sqlBody(expr ast.Expr, head string) string {
	var b strings.Builder
	b.WriteString(head)
	ast.Inspect(expr, func(n ast.Node) bool {
		if bl, ok := n.(*ast.BasicLit); ok && bl.Kind == token.STRING {
			if s, err := unquote(bl.Value); err == nil && s != head {
				b.WriteByte('\n')
				b.WriteString(s)
			}
		}
		return true
	})
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, error) {
	if len(v) >= 2 && v[0] == '`' {
		return v[1 : len(v)-1], nil
	}
	return strconv.Unquote(v)
}
