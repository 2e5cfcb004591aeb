package texture

import (
	"go/ast"
	"go/parser"
	"go/token"
	"testing"

	"github.com/stretchr/testify/require"
)

// documented returns the doc comment of every top-level type and method
// declared in file, keyed by name ("Type" or "Type.Method").
func documented(t *testing.T, file string) map[string]string {
	t.Helper()
	f, err := parser.ParseFile(token.NewFileSet(), file, nil, parser.ParseComments)
	require.NoError(t, err)

	docs := make(map[string]string)
	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.GenDecl:
			for _, s := range d.Specs {
				ts, ok := s.(*ast.TypeSpec)
				if !ok {
					continue
				}
				doc := d.Doc
				if ts.Doc != nil {
					doc = ts.Doc
				}
				docs[ts.Name.Name] = doc.Text()
			}
		case *ast.FuncDecl:
			name := d.Name.Name
			if d.Recv != nil {
				recv := d.Recv.List[0].Type
				if star, ok := recv.(*ast.StarExpr); ok {
					recv = star.X
				}
				name = recv.(*ast.Ident).Name + "." + name
			}
			docs[name] = d.Doc.Text()
		}
	}
	return docs
}

func TestPublicSurfaceIsDocumented(t *testing.T) {
	docs := documented(t, "texture.go")
	for _, name := range []string{"Device", "Spec", "Filter", "Texture.Spec"} {
		require.NotEmpty(t, docs[name], name)
	}

	docs = documented(t, "../hwbuffer/buffer.go")
	for _, name := range []string{"HostBuffer.Released", "Desc.Extent"} {
		require.NotEmpty(t, docs[name], name)
	}
}
