// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package network

import (
	"net"
	"testing"
)

func TestParseSubnet(t *testing.T) {
	r, err := ParseSubnet("192.168.1.0/24")
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if !r.Start.Equal(net.ParseIP("192.168.1.0")) {
		t.Fatalf("Wrong start address: %s", r.Start)
	}
	if !r.End.Equal(net.ParseIP("192.168.1.255")) {
		t.Fatalf("Wrong end address: %s", r.End)
	}

	r, err = ParseSubnet(" 10.0.0.0/8 ")
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if !r.End.Equal(net.ParseIP("10.255.255.255")) {
		t.Fatalf("Wrong end address: %s", r.End)
	}

	r, err = ParseSubnet("2001:db8::/32")
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if !r.Start.Equal(net.ParseIP("2001:db8::")) {
		t.Fatalf("Wrong start address: %s", r.Start)
	}
	if !r.End.Equal(net.ParseIP("2001:db8:ffff:ffff:ffff:ffff:ffff:ffff")) {
		t.Fatalf("Wrong end address: %s", r.End)
	}

	if _, err = ParseSubnet("192.168.1.0"); err == nil {
		t.Fatal("Expected an error for a bare address")
	}
	if _, err = ParseSubnet("not-a-subnet"); err == nil {
		t.Fatal("Expected an error")
	}
}

func TestParseSubnets(t *testing.T) {
	ranges := ParseSubnets([]string{"192.168.1.0/24", "garbage", "10.0.0.0/8"})
	if len(ranges) != 2 {
		t.Fatalf("Expected 2 ranges, got %d", len(ranges))
	}
}

func TestSubnetRangeContains(t *testing.T) {
	r, err := ParseSubnet("192.168.1.0/24")
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	for _, ip := range []string{"192.168.1.0", "192.168.1.1", "192.168.1.128", "192.168.1.255"} {
		if !r.Contains(net.ParseIP(ip)) {
			t.Fatalf("Expected %s inside the range", ip)
		}
	}
	for _, ip := range []string{"192.168.0.255", "192.168.2.0", "10.0.0.1", "2001:db8::1"} {
		if r.Contains(net.ParseIP(ip)) {
			t.Fatalf("Expected %s outside the range", ip)
		}
	}
	if r.Contains(nil) {
		t.Fatal("Expected nil outside the range")
	}
}

func TestContainsIP(t *testing.T) {
	ranges := ParseSubnets([]string{"192.168.1.0/24", "2001:db8::/32"})

	if !ContainsIP(ranges, net.ParseIP("192.168.1.42")) {
		t.Fatal("Expected a match")
	}
	if !ContainsIP(ranges, net.ParseIP("2001:db8::beef")) {
		t.Fatal("Expected a match")
	}
	if ContainsIP(ranges, net.ParseIP("8.8.8.8")) {
		t.Fatal("Expected no match")
	}
	if ContainsIP(nil, net.ParseIP("8.8.8.8")) {
		t.Fatal("Expected no match on an empty list")
	}
}

func TestRangeFromInts(t *testing.T) {
	r, err := ParseSubnet("192.168.1.0/24")
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	rebuilt, ok := RangeFromInts(r.StartInt(), r.EndInt())
	if !ok {
		t.Fatal("Expected a valid range")
	}
	if !rebuilt.Start.Equal(r.Start) || !rebuilt.End.Equal(r.End) {
		t.Fatalf("Round trip mismatch: %s-%s", rebuilt.Start, rebuilt.End)
	}
	if !rebuilt.Contains(net.ParseIP("192.168.1.42")) {
		t.Fatal("Expected a match after the round trip")
	}

	if _, ok := RangeFromInts("garbage", "42"); ok {
		t.Fatal("Expected a parse failure")
	}
	if _, ok := RangeFromInts("42", "garbage"); ok {
		t.Fatal("Expected a parse failure")
	}
	// 2^129 does not fit an address
	if _, ok := RangeFromInts("0", "680564733841876926926749214863536422912"); ok {
		t.Fatal("Expected an overflow failure")
	}
}
