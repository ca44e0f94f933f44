// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package daemon

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/almalinux/mirrorsvc/config"
	"github.com/almalinux/mirrorsvc/core"
	"github.com/almalinux/mirrorsvc/logs"
	"github.com/almalinux/mirrorsvc/mirrors"
	"github.com/almalinux/mirrorsvc/network"
	"github.com/almalinux/mirrorsvc/utils"
	"github.com/op/go-logging"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var log = logging.MustGetLogger("main")

// Processor recomputes the mirror catalogue from the declarations: it
// probes every mirror, resolves its location and swaps the published
// set in one transaction.
type Processor struct {
	client        *http.Client
	geoip         *network.GeoIP
	store         *mirrors.CachedStore
	cache         *mirrors.Cache
	geocoderLimit *rate.Limiter
}

// NewProcessor returns a processor over the given backends
func NewProcessor(geoip *network.GeoIP, store *mirrors.CachedStore, cache *mirrors.Cache) *Processor {
	return &Processor{
		client:        newHTTPClient(),
		geoip:         geoip,
		store:         store,
		cache:         cache,
		geocoderLimit: rate.NewLimiter(rate.Limit(1), 1),
	}
}

// UpdateResult summarizes one update cycle
type UpdateResult struct {
	Mirrors int           `json:"mirrors"`
	Elapsed time.Duration `json:"elapsed"`
}

// Update runs one full update cycle: reload the service declaration,
// load the mirror declarations, process them all and publish the new
// catalogue.
func (p *Processor) Update(ctx context.Context) (*UpdateResult, error) {
	start := time.Now()

	svc, err := config.LoadService(config.ServiceConfigPath())
	if err != nil {
		return nil, err
	}

	dir := svc.MirrorsDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(core.ConfigRoot(), dir)
	}
	decls, err := mirrors.LoadDeclarations(dir, svc.RequiredProtocols, p.client)
	if err != nil {
		return nil, err
	}
	log.Infof("Processing %d mirror declaration%s", len(decls), utils.Plural(len(decls)))

	clouds := p.cloudSubnets(ctx, decls)

	sem := semaphore.NewWeighted(int64(config.GetConfig().StepConcurrency))
	var wg sync.WaitGroup
	for i := range decls {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func(m *mirrors.Mirror) {
			defer sem.Release(1)
			defer wg.Done()
			p.processMirror(ctx, svc, m, clouds)
		}(&decls[i])
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.store.Store.Commit(decls); err != nil {
		return nil, err
	}
	if err := p.store.Refresh(); err != nil {
		return nil, err
	}

	result := &UpdateResult{Mirrors: len(decls), Elapsed: time.Since(start)}
	log.Infof("Updated %d mirrors in %s", result.Mirrors, result.Elapsed.Round(time.Millisecond))
	return result, nil
}

// cloudSubnets prefetches the range document of every provider the
// declarations reference. A fetch failure degrades to the cached copy,
// a cold failure to an empty document.
func (p *Processor) cloudSubnets(ctx context.Context, decls mirrors.Mirrors) map[string]network.CloudSubnets {
	out := map[string]network.CloudSubnets{}
	for i := range decls {
		cloudType := strings.ToLower(decls[i].CloudType)
		if cloudType == "" {
			continue
		}
		if _, done := out[cloudType]; done {
			continue
		}

		subnets, err := network.FetchCloudSubnets(ctx, p.client, cloudType)
		if err != nil {
			logs.CaptureError(errors.Wrapf(err, "fetching %s subnets", cloudType))
			if cached, ok := p.cache.GetCloudSubnets(cloudType); ok {
				subnets = cached
			} else {
				subnets = network.CloudSubnets{}
			}
		} else {
			p.cache.SetCloudSubnets(cloudType, subnets)
		}
		out[cloudType] = subnets
	}
	return out
}

// processMirror runs the per-mirror step sequence, mutating m into its
// published state. Probe failures end up in m.Status, never in err.
func (p *Processor) processMirror(ctx context.Context, svc *config.Service, m *mirrors.Mirror, clouds map[string]network.CloudSubnets) {
	m.MirrorURL = m.BaseURL(svc.RequiredProtocols)
	m.ISOURL = utils.ConcatURL(m.MirrorURL, "%s/isos/%s")

	// Resolve the mirror address first, everything else depends on it.
	addrs, err := network.ResolveA(ctx, m.Name)
	if err != nil {
		log.Warningf("Can not get IP of mirror %s: %s", m.Name, err)
		m.IP = mirrors.UnknownIP
		m.Status = fmt.Sprintf("Unknown IP (%s)", err)
		return
	}
	m.IP = strings.Join(addrs, ",")

	p.setStatus(ctx, svc, m)

	if subnets, ok := clouds[strings.ToLower(m.CloudType)]; ok {
		m.Subnets.List = subnets.Regions(m.CloudRegions)
		m.SubnetRanges = network.ParseSubnets(m.Subnets.List)
	}

	if aaaa, err := network.ResolveAAAA(ctx, m.Name); err == nil && len(aaaa) > 0 {
		m.IPv6 = true
	}

	p.setOfflineGeodata(m, addrs)

	if (m.Status == mirrors.StatusOK || m.Status == mirrors.StatusExpired) &&
		!m.Private && !m.IsCloud() {
		p.probeISOSet(ctx, svc, m)
	}

	if m.Status == mirrors.StatusOK {
		p.setOnlineGeodata(ctx, m)
		p.probeOptionalModules(ctx, svc, m)
	}
}

// setStatus classifies the mirror as ok, expired or failing. Failures
// are recorded in the flap cache so the next cycles skip the probe.
func (p *Processor) setStatus(ctx context.Context, svc *config.Service, m *mirrors.Mirror) {
	if m.Private || utils.IsInSlice(m.Name, config.GetConfig().WhitelistMirrors) {
		m.Status = mirrors.StatusOK
		return
	}

	if reason, flapped := p.cache.MirrorOffline(m.Name); flapped {
		log.Debugf("Mirror %s is still in the flap window: %s", m.Name, reason)
		m.Status = reason
		return
	}

	if err := p.repoCoverage(ctx, svc, m); err != nil {
		// An aborted cycle is not a probe failure, writing it to the
		// flap cache would keep the mirror out for the whole window.
		if ctx.Err() != nil {
			return
		}
		reason := err.Error()
		log.Warningf("Mirror %s is unavailable: %s", m.Name, reason)
		m.Status = reason
		p.cache.SetMirrorOffline(m.Name, reason)
		return
	}

	p.setFreshness(ctx, svc, m)
	p.cache.ClearMirrorOffline(m.Name)
}

// setOfflineGeodata fills geolocation and coordinates from the first
// resolved address the databases know. Fields pinned in the
// declaration stay untouched.
func (p *Processor) setOfflineGeodata(m *mirrors.Mirror, addrs []string) {
	for _, addr := range addrs {
		rec := p.geoip.GetRecord(addr)
		if !rec.IsValid() {
			continue
		}
		m.Geolocation.Merge(mirrors.Geolocation{
			Continent:     rec.Continent,
			Country:       rec.Country,
			StateProvince: rec.StateProvince,
			City:          rec.City,
		})
		m.Location = mirrors.Location{
			Latitude:  rec.Latitude,
			Longitude: rec.Longitude,
		}
		return
	}
	log.Warningf("Mirror %s has no geo data for any of its IPs", m.Name)
}

// setOnlineGeodata refines the coordinates through the geocoder when
// the declaration pins an administrative location the offline database
// could not coordinate.
func (p *Processor) setOnlineGeodata(ctx context.Context, m *mirrors.Mirror) {
	geo := m.Geolocation
	if geo.City == "" || geo.Country == "" || geo.StateProvince == "" {
		return
	}
	if m.Location.Latitude != 0 || m.Location.Longitude != 0 {
		return
	}
	if loc, ok := p.locate(ctx, geo.Country, geo.StateProvince, geo.City); ok {
		m.Location = loc
	}
}
