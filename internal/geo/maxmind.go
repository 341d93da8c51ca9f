// Package geo resolves and caches geo-location data for IP addresses.
package geo

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/theomodesto/fraudshield/internal/domain"
)

// MaxMindProvider implements domain.GeoProvider backed by local MaxMind
// GeoLite2 databases. The ASN database is optional; without it ISP and ASN
// stay empty.
type MaxMindProvider struct {
	city *geoip2.Reader
	asn  *geoip2.Reader
}

// NewMaxMindProvider opens the City database and, when configured, the ASN
// database.
func NewMaxMindProvider(cfg domain.GeoConfig) (*MaxMindProvider, error) {
	city, err := geoip2.Open(cfg.CityDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open city database: %w", err)
	}

	var asn *geoip2.Reader
	if cfg.ASNDBPath != "" {
		asn, err = geoip2.Open(cfg.ASNDBPath)
		if err != nil {
			city.Close()
			return nil, fmt.Errorf("failed to open asn database: %w", err)
		}
	}

	return &MaxMindProvider{city: city, asn: asn}, nil
}

// Lookup resolves geo data for one IP. Returns nil,nil for unparseable
// addresses and for addresses the databases have no record of.
func (p *MaxMindProvider) Lookup(ctx context.Context, ip string) (*domain.GeoInfo, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, nil
	}

	city, err := p.city.City(parsed)
	if err != nil {
		return nil, fmt.Errorf("city lookup: %w", err)
	}
	if city == nil || city.Country.IsoCode == "" {
		return nil, nil
	}

	info := &domain.GeoInfo{
		Country:   city.Country.IsoCode,
		City:      city.City.Names["en"],
		Continent: city.Continent.Code,
		Latitude:  city.Location.Latitude,
		Longitude: city.Location.Longitude,
		Timezone:  city.Location.TimeZone,
	}

	if p.asn != nil {
		asn, err := p.asn.ASN(parsed)
		if err == nil && asn != nil {
			info.ISP = asn.AutonomousSystemOrganization
			info.ASN = asn.AutonomousSystemNumber
		}
	}

	return info, nil
}

// Close closes the underlying database readers.
func (p *MaxMindProvider) Close() error {
	var err error
	if p.asn != nil {
		err = p.asn.Close()
	}
	if cerr := p.city.Close(); cerr != nil {
		err = cerr
	}
	return err
}
