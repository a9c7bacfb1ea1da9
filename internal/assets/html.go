package assets

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"path/filepath"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
  <head>
    <meta charset="utf-8">
    <title>{{ .Title }}</title>
  </head>
  <body>
    <script src="{{ .Script }}"></script>
  </body>
</html>
`))

// WriteIndexHTML renders an index.html page loading the bundle into the output directory.
func (s *Store) WriteIndexHTML(ctx context.Context) (string, error) {
	title := s.config.Title
	if title == "" {
		title = "devbundle"
	}

	data := map[string]any{
		"Title":  title,
		"Script": s.config.PublicPath + s.config.Filename,
	}

	buf := new(bytes.Buffer)
	if err := indexTemplate.Execute(buf, data); err != nil {
		return "", fmt.Errorf("failed to render index.html: %w", err)
	}

	path := filepath.Join(s.config.OutputDir, "index.html")
	if err := writeAtomic(ctx, path, buf.Bytes()); err != nil {
		return "", fmt.Errorf("failed to write index.html: %w", err)
	}

	return path, nil
}
