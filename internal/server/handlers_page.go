package server

import (
	"io/fs"
	"net/http"
	"path"
)

// staticHandler serves UI assets from the web root. "/" resolves to
// index.html; paths outside the root are rejected by http.Dir. Directories
// are never listed.
func (s *Server) staticHandler() http.Handler {
	return http.FileServer(assetFS{http.Dir(s.webRoot)})
}

// assetFS hides directories that have no index.html, so the file server
// answers 404 instead of a listing.
type assetFS struct {
	root http.FileSystem
}

func (a assetFS) Open(name string) (http.File, error) {
	f, err := a.root.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.IsDir() {
		return f, nil
	}
	index, err := a.root.Open(path.Join(name, "index.html"))
	if err != nil {
		f.Close()
		return nil, fs.ErrNotExist
	}
	index.Close()
	return f, nil
}
