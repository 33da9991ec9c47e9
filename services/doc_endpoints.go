//go:build docs
// +build docs

// Serves the generated API reference under /docs. The reference is built
// by the go:generate directive in main.go and embedded at compile time.

package services

import (
	"embed"
	"net/http"

	"github.com/gorilla/mux"
)

var HaveDocEndpoints bool = true

//go:embed docs
var docs embed.FS

func AddDocEndpoints(r *mux.Router) {
	server := http.FileServer(http.FS(docs))
	r.PathPrefix("/docs").Handler(server).Methods("GET")
}
