// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package daemon

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/almalinux/mirrorsvc/config"
	"github.com/almalinux/mirrorsvc/mirrors"
	"github.com/almalinux/mirrorsvc/utils"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Images every public mirror is expected to carry, with their
// manifests plus the checksum file per (version, arch) directory.
var isoVariants = []string{"boot", "dvd", "minimal"}

// isoURIs expands the canonical artefact set of one (version, arch)
// pair, relative to the mirror root. Beta composes carry a -1 suffix
// in their image names.
func isoURIs(version, arch string) []string {
	imageVersion := version
	if strings.Contains(version, "beta") {
		imageVersion += "-1"
	}

	uris := make([]string, 0, 2*len(isoVariants)+1)
	for _, variant := range isoVariants {
		image := fmt.Sprintf("AlmaLinux-%s-%s-%s.iso", imageVersion, arch, variant)
		uris = append(uris,
			path.Join(version, "isos", arch, image),
			path.Join(version, "isos", arch, image+".manifest"),
		)
	}
	uris = append(uris, path.Join(version, "isos", arch, "CHECKSUM"))
	return uris
}

// repoCoverage probes repomd.xml across the (version, repo, arch)
// cross-product of the service declaration. The first failure cancels
// the remaining probes and becomes the mirror's failure reason.
func (p *Processor) repoCoverage(ctx context.Context, svc *config.Service, m *mirrors.Mirror) error {
	whitelistArches := config.GetConfig().ProbeArchWhitelist[m.Name]

	g, ctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(config.GetConfig().RepoConcurrency))

	for _, version := range svc.NonDuplicatedVersions() {
		// Cloud composes never include beta
		if m.IsCloud() && strings.Contains(version, "beta") {
			continue
		}
		for i := range svc.Repos {
			repo := &svc.Repos[i]
			if repo.Vault {
				continue
			}
			if len(repo.Versions) > 0 && !utils.IsInSlice(version, repo.Versions) {
				continue
			}
			arches := repo.Arches
			if len(arches) == 0 {
				arches = svc.ArchesFor(version)
			}
			for _, arch := range arches {
				if len(whitelistArches) > 0 && !utils.IsInSlice(arch, whitelistArches) {
					continue
				}

				repoPath := strings.ReplaceAll(repo.Path, "$basearch", arch)
				checkURL := utils.ConcatURL(m.MirrorURL,
					path.Join(version, repoPath, "repodata/repomd.xml"))
				repoName := repo.Name

				g.Go(func() error {
					if err := sem.Acquire(ctx, 1); err != nil {
						return err
					}
					defer sem.Release(1)

					if err := p.checkURL(ctx, http.MethodGet, checkURL); err != nil {
						return errors.Wrapf(err, "repo %s unavailable", repoName)
					}
					return nil
				})
			}
		}
	}
	return g.Wait()
}

// setFreshness fetches <base>/TIME and compares the advertised sync
// timestamp against the allowed lag. Any fetch or parse problem marks
// the mirror expired.
func (p *Processor) setFreshness(ctx context.Context, svc *config.Service, m *mirrors.Mirror) {
	resp, err := p.doRequest(ctx, http.MethodGet, utils.ConcatURL(m.MirrorURL, "TIME"), nil)
	if err != nil {
		log.Warningf("Mirror %s has no readable timestamp file: %s", m.Name, err)
		m.Status = mirrors.StatusExpired
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warningf("Mirror %s has no timestamp file: %s", m.Name, resp.Status)
		m.Status = mirrors.StatusExpired
		return
	}
	content, err := io.ReadAll(io.LimitReader(resp.Body, 128))
	if err != nil {
		m.Status = mirrors.StatusExpired
		return
	}

	m.Status = freshnessStatus(string(content), svc.AllowedOutdateDuration(), time.Now())
}

// freshnessStatus classifies a raw TIME payload
func freshnessStatus(payload string, allowedOutdate time.Duration, now time.Time) string {
	value, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return mirrors.StatusExpired
	}
	lag := float64(now.UTC().UnixNano())/float64(time.Second) - value
	if lag > allowedOutdate.Seconds() {
		return mirrors.StatusExpired
	}
	return mirrors.StatusOK
}

// probeISOSet checks the full artefact set over all active versions and
// their arches. A single missing artefact cancels the sibling probes.
func (p *Processor) probeISOSet(ctx context.Context, svc *config.Service, m *mirrors.Mirror) {
	g, ctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(config.GetConfig().ISOConcurrency))

	for _, version := range svc.NonDuplicatedVersions() {
		for _, arch := range svc.ArchesFor(version) {
			for _, uri := range isoURIs(version, arch) {
				checkURL := utils.ConcatURL(m.MirrorURL, uri)
				g.Go(func() error {
					if err := sem.Acquire(ctx, 1); err != nil {
						return err
					}
					defer sem.Release(1)
					return p.checkURL(ctx, http.MethodHead, checkURL)
				})
			}
		}
	}

	if err := g.Wait(); err != nil {
		log.Debugf("Mirror %s has no full ISO set: %s", m.Name, err)
		m.HasFullISOSet = false
		return
	}
	m.HasFullISOSet = true
}

// probeOptionalModules checks one repomd.xml per (version, arch) for
// every optional module the mirror declares URLs for.
func (p *Processor) probeOptionalModules(ctx context.Context, svc *config.Service, m *mirrors.Mirror) {
	modules := make([]string, 0, len(m.ModuleURLs))
	for module := range m.ModuleURLs {
		modules = append(modules, module)
	}
	sort.Strings(modules)

	for _, module := range modules {
		versions := svc.OptionalModuleVersions[module]
		if len(versions) == 0 {
			continue
		}
		base := ""
		for _, protocol := range svc.RequiredProtocols {
			if u, ok := m.ModuleURLs[module][protocol]; ok {
				base = u
				break
			}
		}
		if base == "" {
			continue
		}

		available := true
	probing:
		for _, version := range versions {
			for _, arch := range svc.ArchesFor(version + "-" + module) {
				checkURL := utils.ConcatURL(base,
					path.Join(version, arch, "repodata/repomd.xml"))
				if err := p.checkURL(ctx, http.MethodHead, checkURL); err != nil {
					log.Debugf("Mirror %s misses module %s: %s", m.Name, module, err)
					available = false
					break probing
				}
			}
		}
		if available {
			m.HasOptionalModules = append(m.HasOptionalModules, module)
		}
	}
}
