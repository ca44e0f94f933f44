// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package mirrors

import (
	"sort"
	"strconv"
	"strings"

	"github.com/almalinux/mirrorsvc/database"
	"github.com/almalinux/mirrorsvc/network"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Filter selects a subset of the published catalogue. The zero value
// selects everything.
type Filter struct {
	Working        bool
	Expired        bool
	WithoutCloud   bool
	WithoutPrivate bool
	WithFullISOSet bool
}

// CacheKey returns the canonical cache key of the filter combination
func (f Filter) CacheKey() string {
	var parts []string
	if f.Working {
		parts = append(parts, "working")
	}
	if f.Expired {
		parts = append(parts, "expired")
	}
	if f.WithoutCloud {
		parts = append(parts, "without_cloud")
	}
	if f.WithoutPrivate {
		parts = append(parts, "without_private")
	}
	if f.WithFullISOSet {
		parts = append(parts, "with_full_iso_set")
	}
	sort.Strings(parts)
	return "mirrors_list_" + strings.Join(parts, ",")
}

// AllFilters enumerates every filter combination, used for cache
// invalidation and warming after a catalogue swap.
func AllFilters() []Filter {
	var all []Filter
	for i := 0; i < 1<<5; i++ {
		all = append(all, Filter{
			Working:        i&1 != 0,
			Expired:        i&2 != 0,
			WithoutCloud:   i&4 != 0,
			WithoutPrivate: i&8 != 0,
			WithFullISOSet: i&16 != 0,
		})
	}
	return all
}

// Store reads and writes the published mirror catalogue
type Store struct {
	sql *database.SQL
}

// NewStore returns a store over the given database
func NewStore(sql *database.SQL) *Store {
	return &Store{sql: sql}
}

type mirrorRow struct {
	ID                 int     `db:"id"`
	Name               string  `db:"name"`
	Continent          string  `db:"continent"`
	Country            string  `db:"country"`
	StateProvince      string  `db:"state_province"`
	City               string  `db:"city"`
	IP                 string  `db:"ip"`
	IPv6               bool    `db:"ipv6"`
	Latitude           float64 `db:"latitude"`
	Longitude          float64 `db:"longitude"`
	Status             string  `db:"status"`
	UpdateFrequency    string  `db:"update_frequency"`
	SponsorName        string  `db:"sponsor_name"`
	SponsorURL         string  `db:"sponsor_url"`
	Email              string  `db:"email"`
	ASN                string  `db:"asn"`
	CloudType          string  `db:"cloud_type"`
	CloudRegions       string  `db:"cloud_regions"`
	Private            bool    `db:"private"`
	Monopoly           bool    `db:"monopoly"`
	MirrorURL          string  `db:"mirror_url"`
	ISOURL             string  `db:"iso_url"`
	HasFullISOSet      bool    `db:"has_full_iso_set"`
	HasOptionalModules string  `db:"has_optional_modules"`
}

func (r *mirrorRow) toMirror() Mirror {
	m := Mirror{
		ID:   r.ID,
		Name: r.Name,
		Geolocation: Geolocation{
			Continent:     r.Continent,
			Country:       r.Country,
			StateProvince: r.StateProvince,
			City:          r.City,
		},
		IP:              r.IP,
		IPv6:            r.IPv6,
		Location:        Location{Latitude: r.Latitude, Longitude: r.Longitude},
		Status:          r.Status,
		UpdateFrequency: r.UpdateFrequency,
		Sponsor:         Sponsor{Name: r.SponsorName, URL: r.SponsorURL},
		Email:           r.Email,
		CloudType:       r.CloudType,
		CloudRegions:    splitList(r.CloudRegions),
		Private:         r.Private,
		Monopoly:        r.Monopoly,
		MirrorURL:       r.MirrorURL,
		ISOURL:          r.ISOURL,
		HasFullISOSet:   r.HasFullISOSet,
		URLs:            map[string]string{},
	}
	for _, v := range splitList(r.ASN) {
		if n, err := strconv.Atoi(v); err == nil {
			m.ASN = append(m.ASN, n)
		}
	}
	m.HasOptionalModules = splitList(r.HasOptionalModules)
	return m
}

func fromMirror(m *Mirror) mirrorRow {
	asn := make([]string, 0, len(m.ASN))
	for _, n := range m.ASN {
		asn = append(asn, strconv.Itoa(n))
	}
	return mirrorRow{
		Name:               m.Name,
		Continent:          m.Geolocation.Continent,
		Country:            m.Geolocation.Country,
		StateProvince:      m.Geolocation.StateProvince,
		City:               m.Geolocation.City,
		IP:                 m.IP,
		IPv6:               m.IPv6,
		Latitude:           m.Location.Latitude,
		Longitude:          m.Location.Longitude,
		Status:             m.Status,
		UpdateFrequency:    m.UpdateFrequency,
		SponsorName:        m.Sponsor.Name,
		SponsorURL:         m.Sponsor.URL,
		Email:              m.Email,
		ASN:                strings.Join(asn, ","),
		CloudType:          m.CloudType,
		CloudRegions:       strings.Join(m.CloudRegions, ","),
		Private:            m.Private,
		Monopoly:           m.Monopoly,
		MirrorURL:          m.MirrorURL,
		ISOURL:             m.ISOURL,
		HasFullISOSet:      m.HasFullISOSet,
		HasOptionalModules: strings.Join(m.HasOptionalModules, ","),
	}
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

// List returns the mirrors matching the filter in catalogue order
// (continent, then country).
func (s *Store) List(f Filter) (Mirrors, error) {
	query := "SELECT * FROM mirrors"
	var conds []string
	switch {
	case f.Working && f.Expired:
		conds = append(conds, "status IN ('ok', 'expired')")
	case f.Working:
		conds = append(conds, "status = 'ok'")
	case f.Expired:
		conds = append(conds, "status = 'expired'")
	}
	if f.WithoutCloud {
		conds = append(conds, "cloud_type = ''")
	}
	if f.WithoutPrivate {
		conds = append(conds, "private = 0")
	}
	if f.WithFullISOSet {
		conds = append(conds, "has_full_iso_set = 1")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY continent, country"

	var rows []mirrorRow
	if err := s.sql.DB.Select(&rows, query); err != nil {
		return nil, errors.Wrap(err, "listing mirrors")
	}

	set := make(Mirrors, 0, len(rows))
	for i := range rows {
		set = append(set, rows[i].toMirror())
	}
	if err := s.loadAssociations(set); err != nil {
		return nil, err
	}
	return set, nil
}

// The catalogue is small so the association tables are read whole and
// matched in memory.
func (s *Store) loadAssociations(set Mirrors) error {
	index := make(map[int]*Mirror, len(set))
	for i := range set {
		index[set[i].ID] = &set[i]
	}

	var urls []struct {
		MirrorID int    `db:"mirror_id"`
		Type     string `db:"type"`
		URL      string `db:"url"`
	}
	err := s.sql.DB.Select(&urls, `
		SELECT mu.mirror_id, u.type, u.url
		FROM mirrors_urls mu JOIN urls u ON u.id = mu.url_id`)
	if err != nil {
		return errors.Wrap(err, "loading urls")
	}
	for _, row := range urls {
		if m, ok := index[row.MirrorID]; ok {
			m.URLs[row.Type] = row.URL
		}
	}

	var moduleURLs []struct {
		MirrorID int    `db:"mirror_id"`
		Module   string `db:"module"`
		Type     string `db:"type"`
		URL      string `db:"url"`
	}
	err = s.sql.DB.Select(&moduleURLs, `
		SELECT mu.mirror_id, u.module, u.type, u.url
		FROM mirrors_module_urls mu JOIN module_urls u ON u.id = mu.url_id`)
	if err != nil {
		return errors.Wrap(err, "loading module urls")
	}
	for _, row := range moduleURLs {
		m, ok := index[row.MirrorID]
		if !ok {
			continue
		}
		if m.ModuleURLs == nil {
			m.ModuleURLs = map[string]map[string]string{}
		}
		if m.ModuleURLs[row.Module] == nil {
			m.ModuleURLs[row.Module] = map[string]string{}
		}
		m.ModuleURLs[row.Module][row.Type] = row.URL
	}

	var subnets []struct {
		MirrorID int    `db:"mirror_id"`
		Subnet   string `db:"subnet"`
	}
	err = s.sql.DB.Select(&subnets, `
		SELECT ms.mirror_id, s.subnet
		FROM mirrors_subnets ms JOIN subnets s ON s.id = ms.subnet_id`)
	if err != nil {
		return errors.Wrap(err, "loading subnets")
	}
	for _, row := range subnets {
		if m, ok := index[row.MirrorID]; ok {
			m.Subnets.List = append(m.Subnets.List, row.Subnet)
		}
	}

	var ranges []struct {
		MirrorID int    `db:"mirror_id"`
		Start    string `db:"subnet_start"`
		End      string `db:"subnet_end"`
	}
	err = s.sql.DB.Select(&ranges, `
		SELECT ms.mirror_id, s.subnet_start, s.subnet_end
		FROM mirrors_subnets_int ms JOIN subnets_int s ON s.id = ms.subnet_id`)
	if err != nil {
		return errors.Wrap(err, "loading subnet ranges")
	}
	for _, row := range ranges {
		m, ok := index[row.MirrorID]
		if !ok {
			continue
		}
		if r, ok := network.RangeFromInts(row.Start, row.End); ok {
			m.SubnetRanges = append(m.SubnetRanges, r)
		}
	}
	return nil
}

// Commit replaces the whole catalogue under a single transaction
func (s *Store) Commit(set Mirrors) (err error) {
	tx, err := s.sql.DB.Beginx()
	if err != nil {
		return errors.Wrap(err, "beginning catalogue swap")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, table := range []string{
		"mirrors_urls", "mirrors_module_urls", "mirrors_subnets", "mirrors_subnets_int",
		"urls", "module_urls", "subnets", "subnets_int", "mirrors",
	} {
		if _, err = tx.Exec("DELETE FROM " + table); err != nil {
			return errors.Wrapf(err, "clearing %s", table)
		}
	}

	for i := range set {
		if err = insertMirror(tx, &set[i]); err != nil {
			return errors.Wrapf(err, "inserting %s", set[i].Name)
		}
	}
	return errors.Wrap(tx.Commit(), "committing catalogue swap")
}

func insertMirror(tx *sqlx.Tx, m *Mirror) error {
	row := fromMirror(m)
	res, err := tx.NamedExec(`
		INSERT INTO mirrors (
			name, continent, country, state_province, city, ip, ipv6,
			latitude, longitude, status, update_frequency, sponsor_name,
			sponsor_url, email, asn, cloud_type, cloud_regions, private,
			monopoly, mirror_url, iso_url, has_full_iso_set, has_optional_modules
		) VALUES (
			:name, :continent, :country, :state_province, :city, :ip, :ipv6,
			:latitude, :longitude, :status, :update_frequency, :sponsor_name,
			:sponsor_url, :email, :asn, :cloud_type, :cloud_regions, :private,
			:monopoly, :mirror_url, :iso_url, :has_full_iso_set, :has_optional_modules
		)`, &row)
	if err != nil {
		return err
	}
	mirrorID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, urlType := range sortedKeys(m.URLs) {
		if err := insertAssoc(tx,
			"INSERT INTO urls (url, type) VALUES (?, ?)",
			"INSERT INTO mirrors_urls (mirror_id, url_id) VALUES (?, ?)",
			mirrorID, m.URLs[urlType], urlType); err != nil {
			return err
		}
	}

	for _, module := range sortedKeys(m.ModuleURLs) {
		byType := m.ModuleURLs[module]
		for _, urlType := range sortedKeys(byType) {
			res, err := tx.Exec(
				"INSERT INTO module_urls (url, type, module) VALUES (?, ?, ?)",
				byType[urlType], urlType, module)
			if err != nil {
				return err
			}
			urlID, err := res.LastInsertId()
			if err != nil {
				return err
			}
			if _, err := tx.Exec(
				"INSERT INTO mirrors_module_urls (mirror_id, url_id) VALUES (?, ?)",
				mirrorID, urlID); err != nil {
				return err
			}
		}
	}

	for _, cidr := range m.Subnets.List {
		if err := insertAssoc(tx,
			"INSERT INTO subnets (subnet) VALUES (?)",
			"INSERT INTO mirrors_subnets (mirror_id, subnet_id) VALUES (?, ?)",
			mirrorID, cidr); err != nil {
			return err
		}
	}

	for _, r := range m.SubnetRanges {
		res, err := tx.Exec(
			"INSERT INTO subnets_int (subnet_start, subnet_end) VALUES (?, ?)",
			r.StartInt(), r.EndInt())
		if err != nil {
			return err
		}
		subnetID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(
			"INSERT INTO mirrors_subnets_int (mirror_id, subnet_id) VALUES (?, ?)",
			mirrorID, subnetID); err != nil {
			return err
		}
	}
	return nil
}

func insertAssoc(tx *sqlx.Tx, insert, link string, mirrorID int64, args ...interface{}) error {
	res, err := tx.Exec(insert, args...)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	_, err = tx.Exec(link, mirrorID, id)
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
