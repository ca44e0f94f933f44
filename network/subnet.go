// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package network

import (
	"bytes"
	"math/big"
	"net"
	"strings"
)

// SubnetRange is the inclusive address range of a CIDR block. Both
// bounds are normalized to 16-byte addresses so IPv4 and IPv6 ranges
// compare uniformly.
type SubnetRange struct {
	Start net.IP
	End   net.IP
}

// ParseSubnet expands a CIDR block into its full address range,
// broadcast address included.
func ParseSubnet(cidr string) (SubnetRange, error) {
	_, ipnet, err := net.ParseCIDR(strings.TrimSpace(cidr))
	if err != nil {
		return SubnetRange{}, err
	}

	start := ipnet.IP.To16()
	end := make(net.IP, net.IPv6len)
	copy(end, start)

	offset := net.IPv6len - len(ipnet.Mask)
	for i, b := range ipnet.Mask {
		end[offset+i] |= ^b
	}
	return SubnetRange{Start: start, End: end}, nil
}

// ParseSubnets expands a list of CIDR blocks, skipping malformed
// entries with a warning.
func ParseSubnets(cidrs []string) []SubnetRange {
	ranges := make([]SubnetRange, 0, len(cidrs))
	for _, cidr := range cidrs {
		r, err := ParseSubnet(cidr)
		if err != nil {
			log.Warningf("Skipping malformed subnet %q: %s", cidr, err)
			continue
		}
		ranges = append(ranges, r)
	}
	return ranges
}

// Contains reports whether ip falls inside the range, bounds included
func (r SubnetRange) Contains(ip net.IP) bool {
	v := ip.To16()
	if v == nil {
		return false
	}
	return bytes.Compare(v, r.Start) >= 0 && bytes.Compare(v, r.End) <= 0
}

// ContainsIP reports whether ip falls inside any of the ranges
func ContainsIP(ranges []SubnetRange, ip net.IP) bool {
	for _, r := range ranges {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}

// StartInt returns the lower bound as a decimal integer string, the
// form the range is persisted in.
func (r SubnetRange) StartInt() string {
	return new(big.Int).SetBytes(r.Start).String()
}

// EndInt returns the upper bound as a decimal integer string
func (r SubnetRange) EndInt() string {
	return new(big.Int).SetBytes(r.End).String()
}

// RangeFromInts rebuilds a range from its persisted decimal bounds
func RangeFromInts(start, end string) (SubnetRange, bool) {
	lo, ok := new(big.Int).SetString(start, 10)
	if !ok {
		return SubnetRange{}, false
	}
	hi, ok := new(big.Int).SetString(end, 10)
	if !ok {
		return SubnetRange{}, false
	}

	r := SubnetRange{
		Start: make(net.IP, net.IPv6len),
		End:   make(net.IP, net.IPv6len),
	}
	if len(lo.Bytes()) > net.IPv6len || len(hi.Bytes()) > net.IPv6len {
		return SubnetRange{}, false
	}
	lo.FillBytes(r.Start)
	hi.FillBytes(r.End)
	return r, true
}
