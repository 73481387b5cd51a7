package handlers

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"html/template"
	"net/http"

	"github.com/tidwall/gjson"
)

// OpenAPIPath is where the document is served; the docs page loads it from here.
const OpenAPIPath = "/v1/openapi.json"

//go:embed openapi.json
var openAPIDocument []byte

var docsTemplate = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <title>{{.Title}} {{.Version}}</title>
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <style>
      body { margin: 0; padding: 0; }
      redoc { display: block; height: 100vh; }
    </style>
  </head>
  <body>
    <redoc spec-url="{{.SpecURL}}"></redoc>
    <script src="https://cdn.jsdelivr.net/npm/redoc@2.2.0/bundles/redoc.standalone.js"></script>
  </body>
</html>`))

var (
	openAPIETag = func() string {
		sum := sha256.Sum256(openAPIDocument)
		return `"` + hex.EncodeToString(sum[:8]) + `"`
	}()
	docsPage = renderDocs(openAPIDocument)
)

// renderDocs titles the page after the document's info block.
func renderDocs(doc []byte) []byte {
	info := gjson.GetManyBytes(doc, "info.title", "info.version")
	title := info[0].String()
	if title == "" {
		title = "API"
	}
	var buf bytes.Buffer
	_ = docsTemplate.Execute(&buf, struct{ Title, Version, SpecURL string }{title, info[1].String(), OpenAPIPath})
	return buf.Bytes()
}

func (a *App) OpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("ETag", openAPIETag)
	w.Header().Set("Cache-Control", "public, max-age=300")
	if r.Header.Get("If-None-Match") == openAPIETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPIDocument)
}

func (a *App) OpenAPIDocs(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(docsPage)
}
