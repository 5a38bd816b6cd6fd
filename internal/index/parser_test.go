package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLanguageFor(t *testing.T) {
	cases := map[string]string{
		"main.go":       "go",
		"app.py":        "python",
		"widget.tsx":    "typescript",
		"legacy.js":     "javascript",
		"lib.rs":        "rust",
		"README.md":     "",
		"Makefile":      "",
		"nested/ui.jsx": "javascript",
	}
	for path, want := range cases {
		assert.Equal(t, want, LanguageFor(path), "path %s", path)
	}
}

func TestParseGoFunctions(t *testing.T) {
	p := NewParser()
	defer p.Close()

	src := []byte(`package calc

import "fmt"

func Add(a, b int) int {
	return a + b
}

func PrintSum(a, b int) {
	fmt.Println(Add(a, b))
}
`)
	res, err := p.Parse(context.Background(), "calc.go", src)
	require.NoError(t, err)
	assert.Equal(t, "go", res.Language)

	symbols := make(map[string]string)
	for _, u := range res.Units {
		symbols[u.Symbol] = u.Kind
	}
	assert.Equal(t, "function", symbols["Add"])
	assert.Equal(t, "function", symbols["PrintSum"])

	var sawImport, sawCall bool
	for _, e := range res.Edges {
		if e.Kind == "imports" && e.ToSymbol == "fmt" {
			sawImport = true
		}
		if e.Kind == "calls" && e.ToSymbol == "Add" && e.FromSymbol == "PrintSum" {
			sawCall = true
		}
	}
	assert.True(t, sawImport, "import edge for fmt expected")
	assert.True(t, sawCall, "call edge PrintSum -> Add expected")
}

func TestParsePythonClasses(t *testing.T) {
	p := NewParser()
	defer p.Close()

	src := []byte(`import os

class Greeter:
    def greet(self, name):
        return "hello " + name

def main():
    Greeter().greet(os.getlogin())
`)
	res, err := p.Parse(context.Background(), "greet.py", src)
	require.NoError(t, err)
	assert.Equal(t, "python", res.Language)

	var class *Unit
	for i := range res.Units {
		if res.Units[i].Symbol == "Greeter" {
			class = &res.Units[i]
		}
	}
	require.NotNil(t, class, "class unit expected")
	assert.Equal(t, "class", class.Kind)
	require.NotEmpty(t, class.Children, "methods should appear as nested units")
	assert.Equal(t, "greet", class.Children[0].Symbol)
}

func TestParseUnsupportedExtension(t *testing.T) {
	p := NewParser()
	defer p.Close()

	_, err := p.Parse(context.Background(), "notes.txt", []byte("plain text"))
	assert.Error(t, err)
}

func TestParseGroupsTopLevelStatements(t *testing.T) {
	p := NewParser()
	defer p.Close()

	src := []byte(`X = 1
Y = 2

def f():
    return X + Y
`)
	res, err := p.Parse(context.Background(), "consts.py", src)
	require.NoError(t, err)

	var kinds []string
	for _, u := range res.Units {
		kinds = append(kinds, u.Kind)
	}
	assert.Contains(t, kinds, "statements")
	assert.Contains(t, kinds, "function")
}
