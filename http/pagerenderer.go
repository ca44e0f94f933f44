// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package http

import (
	"embed"
	"html/template"
	"net/http"
	"sort"

	"github.com/almalinux/mirrorsvc/config"
	"github.com/almalinux/mirrorsvc/core"
	"github.com/almalinux/mirrorsvc/logs"
	"github.com/almalinux/mirrorsvc/mirrors"
	"github.com/almalinux/mirrorsvc/utils"
)

//go:embed templates/*.html
var templateFS embed.FS

// PageRenderer produces the human-facing HTML pages
type PageRenderer struct {
	store     *mirrors.CachedStore
	templates *template.Template
}

// NewPageRenderer parses the embedded templates
func NewPageRenderer(store *mirrors.CachedStore) *PageRenderer {
	return &PageRenderer{
		store:     store,
		templates: template.Must(template.ParseFS(templateFS, "templates/*.html")),
	}
}

type mirrorTableData struct {
	URLTypes []string
	Mirrors  mirrors.Mirrors
	Version  string
}

// MirrorTable renders the public mirror table served at /
func (p *PageRenderer) MirrorTable(w http.ResponseWriter) {
	set, err := p.store.List(mirrors.Filter{WithoutPrivate: true})
	if err != nil {
		logs.CaptureError(err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	data := mirrorTableData{
		URLTypes: urlTypes(set),
		Mirrors:  set,
		Version:  versionString(),
	}
	p.render(w, "mirrors.html", data)
}

type isoIndexRow struct {
	Arch     string
	Versions []string
}

type isoIndexData struct {
	Rows    []isoIndexRow
	Version string
}

// ISOIndex renders the ISO landing page: every arch with the versions
// it is built for.
func (p *PageRenderer) ISOIndex(w http.ResponseWriter) {
	svc := config.GetService()

	var rows []isoIndexRow
	for _, arch := range svc.AllArches() {
		var versions []string
		for _, version := range svc.NonDuplicatedVersions() {
			if utils.IsInSlice(arch, svc.ArchesFor(version)) {
				versions = append(versions, version)
			}
		}
		rows = append(rows, isoIndexRow{Arch: arch, Versions: versions})
	}
	p.render(w, "isos_index.html", isoIndexData{Rows: rows, Version: versionString()})
}

type isoListData struct {
	Arch      string
	OSVersion string
	URLs      []string
	Version   string
}

// ISOList renders the per-arch/version ISO mirror listing
func (p *PageRenderer) ISOList(w http.ResponseWriter, arch, osVersion string, urls []string) {
	p.render(w, "isos_list.html", isoListData{
		Arch:      arch,
		OSVersion: osVersion,
		URLs:      urls,
		Version:   versionString(),
	})
}

func (p *PageRenderer) render(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := p.templates.ExecuteTemplate(w, name, data); err != nil {
		logs.CaptureError(err)
	}
}

func versionString() string {
	return core.VERSION
}

// urlTypes discovers the distinct protocol columns of the mirror table
func urlTypes(set mirrors.Mirrors) []string {
	seen := map[string]bool{}
	for i := range set {
		for t := range set[i].URLs {
			seen[t] = true
		}
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
