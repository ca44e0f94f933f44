// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/almalinux/mirrorsvc/config"
	"github.com/almalinux/mirrorsvc/core"
	"github.com/almalinux/mirrorsvc/daemon"
	"github.com/almalinux/mirrorsvc/logs"
	"github.com/almalinux/mirrorsvc/mirrors"
	"github.com/almalinux/mirrorsvc/network"
	systemd "github.com/coreos/go-systemd/daemon"
	"github.com/op/go-logging"
	graceful "gopkg.in/tylerb/graceful.v1"
)

var log = logging.MustGetLogger("main")

// HTTP is the instance of the HTTP server
type HTTP struct {
	geoip    *network.GeoIP
	store    *mirrors.CachedStore
	cache    *mirrors.Cache
	selector *Selector
	monitor  *daemon.Monitor
	renderer *PageRenderer
	server   *graceful.Server
}

// HTTPServer sets up the HTTP server of the service
func HTTPServer(geoip *network.GeoIP, store *mirrors.CachedStore, cache *mirrors.Cache, monitor *daemon.Monitor) *HTTP {
	h := &HTTP{
		geoip:    geoip,
		store:    store,
		cache:    cache,
		selector: NewSelector(geoip, store, cache),
		monitor:  monitor,
		renderer: NewPageRenderer(store),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", h.requestDispatcher)

	h.server = &graceful.Server{
		Timeout:          10 * time.Second,
		NoSignalHandling: true,
		Server: &http.Server{
			Addr:         config.GetConfig().ListenAddress,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
	return h
}

// RunServer binds the listener and serves until Stop is called
func (h *HTTP) RunServer() error {
	log.Infof("Service listening on %s", h.server.Server.Addr)
	if core.Daemon {
		systemd.SdNotify(false, "READY=1")
	}
	return h.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (h *HTTP) Stop(timeout time.Duration) {
	h.server.Stop(timeout)
}

func (h *HTTP) requestDispatcher(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Server", "mirrorsvc/"+core.VERSION)
	path := strings.TrimSuffix(r.URL.Path, "/")

	switch {
	case path == "":
		h.renderer.MirrorTable(w)
	case strings.HasPrefix(path, "/mirrorlist/"):
		h.mirrorListHandler(w, r)
	case strings.HasPrefix(path, "/isolist/"):
		h.isoListHandler(w, r)
	case path == "/isos" || strings.HasPrefix(path, "/isos/"):
		h.isosPageHandler(w, r, path)
	case path == "/debug/json/ip_info":
		h.ipInfoHandler(w, r)
	case path == "/debug/json/nearest_mirrors":
		h.nearestMirrorsHandler(w, r)
	case path == "/debug/json/all_mirrors":
		h.allMirrorsHandler(w, r)
	case path == "/update_mirrors" && r.Method == http.MethodPost:
		h.updateMirrorsHandler(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *HTTP) mirrorListHandler(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		http.NotFound(w, r)
		return
	}

	req := &SelectionRequest{
		IP:       network.ExtractClientIP(r),
		Version:  parts[1],
		Repo:     parts[2],
		Arch:     r.URL.Query().Get("arch"),
		Protocol: r.URL.Query().Get("protocol"),
		Country:  r.URL.Query().Get("country"),
		Module:   r.URL.Query().Get("module"),
	}
	urls, err := h.selector.Select(req)
	if err != nil {
		h.replyError(w, err)
		return
	}
	replyText(w, urls)
}

func (h *HTTP) isoListHandler(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		http.NotFound(w, r)
		return
	}

	req := &SelectionRequest{
		IP:      network.ExtractClientIP(r),
		Version: parts[1],
		Arch:    parts[2],
		ISOList: true,
	}
	urls, err := h.selector.Select(req)
	if err != nil {
		h.replyError(w, err)
		return
	}
	replyText(w, urls)
}

func (h *HTTP) isosPageHandler(w http.ResponseWriter, r *http.Request, path string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch len(parts) {
	case 1:
		h.renderer.ISOIndex(w)
	case 3:
		req := &SelectionRequest{
			IP:      network.ExtractClientIP(r),
			Arch:    parts[1],
			Version: parts[2],
			ISOList: true,
		}
		urls, err := h.selector.Select(req)
		if err != nil {
			h.replyError(w, err)
			return
		}
		h.renderer.ISOList(w, parts[1], parts[2], urls)
	default:
		http.NotFound(w, r)
	}
}

func (h *HTTP) ipInfoHandler(w http.ResponseWriter, r *http.Request) {
	ip := network.ExtractClientIP(r)
	rec := h.geoip.GetRecord(ip)
	asn, _ := h.geoip.GetASN(ip)

	replyJSON(w, http.StatusOK, map[string]interface{}{
		"ip": ip,
		"geolocation": mirrors.Geolocation{
			Continent:     rec.Continent,
			Country:       rec.Country,
			StateProvince: rec.StateProvince,
			City:          rec.City,
		},
		"location": mirrors.Location{Latitude: rec.Latitude, Longitude: rec.Longitude},
		"asn":      asn,
	})
}

func (h *HTTP) nearestMirrorsHandler(w http.ResponseWriter, r *http.Request) {
	ip := network.ExtractClientIP(r)
	rec := h.geoip.GetRecord(ip)

	set, err := h.store.List(mirrors.Filter{Working: true, WithoutPrivate: true})
	if err != nil {
		h.replyError(w, err)
		return
	}
	if rec.IsValid() {
		set.ComputeDistances(rec.Latitude, rec.Longitude)
		sort.Sort(mirrors.ByCountryAndDistance{Mirrors: set, Country: rec.Country})
	} else {
		set.Shuffle()
	}
	set = truncate(set, config.GetConfig().LengthGeoMirrorsList)

	replyJSON(w, http.StatusOK, map[string]interface{}{
		"ip":      ip,
		"valid":   rec.IsValid(),
		"country": rec.Country,
		"mirrors": set,
	})
}

func (h *HTTP) allMirrorsHandler(w http.ResponseWriter, r *http.Request) {
	set, err := h.store.List(mirrors.Filter{})
	if err != nil {
		h.replyError(w, err)
		return
	}
	replyJSON(w, http.StatusOK, set)
}

func (h *HTTP) updateMirrorsHandler(w http.ResponseWriter, r *http.Request) {
	key := config.GetConfig().UpdateAuthKey
	provided := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if key == "" || provided != key {
		replyStatus(w, http.StatusForbidden, "error", "invalid or missing auth key")
		return
	}

	result, err := h.monitor.RunUpdate(r.Context())
	if err != nil {
		replyStatus(w, http.StatusInternalServerError, "error", err.Error())
		return
	}
	replyStatus(w, http.StatusOK, "success",
		fmt.Sprintf("Updated %d mirrors in %s", result.Mirrors, result.Elapsed.Round(time.Millisecond)))
}

func (h *HTTP) replyError(w http.ResponseWriter, err error) {
	var unknown *UnknownRepoAttributeError
	if errors.As(err, &unknown) {
		http.Error(w, unknown.Error(), http.StatusNotFound)
		return
	}
	logs.CaptureError(err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func replyText(w http.ResponseWriter, lines []string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, strings.Join(lines, "\n"))
}

func replyJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

// POST responses follow the {status, result, timestamp} envelope
func replyStatus(w http.ResponseWriter, code int, status, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"result":    map[string]string{"message": message},
		"timestamp": time.Now().Unix(),
	})
}
