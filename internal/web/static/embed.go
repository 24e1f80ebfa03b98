package static

import (
	"embed"
	"io/fs"
)

//go:embed pages/*.html
var pagesFS embed.FS

// Page returns the contents of an embedded HTML page, e.g. "index.html".
func Page(name string) ([]byte, error) {
	return fs.ReadFile(pagesFS, "pages/"+name)
}
