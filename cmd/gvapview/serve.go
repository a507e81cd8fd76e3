package main

import (
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/vaporyco/gvaphive/internal/libgvap"
	"gopkg.in/inconshreveable/log15.v2"
)

type serverConfig struct {
	listenAddr string
	resultsDir string
	limit      int
}

func newRouter(fsys fs.FS, limit int) *mux.Router {
	fileHandler := http.FileServer(http.FS(fsys))
	router := mux.NewRouter()
	router.Handle("/listing.jsonl", serveListing{fsys: fsys, limit: limit}).Methods("GET")
	router.Handle("/instance.json", serveInstance{fsys: fsys}).Methods("GET")
	router.PathPrefix("/results/").Handler(http.StripPrefix("/results/", fileHandler)).Methods("GET")
	return router
}

func runServer(config serverConfig) error {
	router := newRouter(os.DirFS(config.resultsDir), config.limit)
	l, err := net.Listen("tcp", config.listenAddr)
	if err != nil {
		return err
	}
	log15.Info("serving results", "url", "http://"+l.Addr().String()+"/", "dir", config.resultsDir)
	return http.Serve(l, router)
}

func writeListing(fsys fs.FS, w io.Writer, limit int) error {
	return libgvap.ReadListing(fsys, ".", w, limit)
}

type serveListing struct {
	fsys  fs.FS
	limit int
}

func (h serveListing) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log15.Debug("generating listing")
	w.Header().Set("content-type", "application/x-ndjson")
	w.Header().Set("cache-control", "no-cache")
	if err := writeListing(h.fsys, w, h.limit); err != nil {
		log15.Error("can't generate listing", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

type serveInstance struct{ fsys fs.FS }

func (h serveInstance) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.fsys, libgvap.InstanceFile)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("content-type", "application/json")
	w.Write(data)
}
