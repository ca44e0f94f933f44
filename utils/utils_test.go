// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package utils

import "testing"

func TestNormalizeURL(t *testing.T) {
	s := []string{
		"", "",
		"http://test.com", "http://test.com/",
		"http://test.com/", "http://test.com/",
	}

	if len(s)%2 != 0 {
		t.Fatal("not multiple of 2")
	}

	for i := 0; i < len(s); i += 2 {
		if r := NormalizeURL(s[i]); r != s[i+1] {
			t.Fatalf("%q: expected %q, got %q", s[i], s[i+1], r)
		}
	}
}

func TestGetDistanceKm(t *testing.T) {
	if r := GetDistanceKm(48.8567, 2.3508, 40.7127, 74.0059); int(r) != 5514 {
		t.Fatalf("Expected 5514, got %f", r)
	}
	if r := GetDistanceKm(48.8567, 2.3508, 48.8567, 2.3508); int(r) != 0 {
		t.Fatalf("Expected 0, got %f", r)
	}
}

func TestMin(t *testing.T) {
	if r := Min(-10, 5); r != -10 {
		t.Fatalf("Expected -10, got %d", r)
	}
}

func TestIsInSlice(t *testing.T) {
	list := []string{"e", "w", "q"}

	if !IsInSlice("w", list) {
		t.Fatal("Expected true, got false")
	}
	if IsInSlice("x", list) {
		t.Fatal("Expected false, got true")
	}
	if IsInSlice("", list) {
		t.Fatal("Expected false, got true")
	}
}

func TestConcatURL(t *testing.T) {
	s := []string{
		"http://m.example.com", "8/BaseOS", "http://m.example.com/8/BaseOS",
		"http://m.example.com/", "8/BaseOS", "http://m.example.com/8/BaseOS",
		"http://m.example.com", "/8/BaseOS", "http://m.example.com/8/BaseOS",
		"http://m.example.com/", "/8/BaseOS", "http://m.example.com/8/BaseOS",
	}

	for i := 0; i < len(s); i += 3 {
		if r := ConcatURL(s[i], s[i+1]); r != s[i+2] {
			t.Fatalf("%q + %q: expected %q, got %q", s[i], s[i+1], s[i+2], r)
		}
	}
}

func TestPlural(t *testing.T) {
	if r := Plural(2); r != "s" {
		t.Fatalf("Expected 's', got %q", r)
	}
	if r := Plural(10000000); r != "s" {
		t.Fatalf("Expected 's', got %q", r)
	}
	if r := Plural(-2); r != "s" {
		t.Fatalf("Expected 's', got %q", r)
	}
	if r := Plural(1); r != "" {
		t.Fatalf("Expected '', got %q", r)
	}
	if r := Plural(-1); r != "" {
		t.Fatalf("Expected '', got %q", r)
	}
	if r := Plural(0); r != "" {
		t.Fatalf("Expected '', got %q", r)
	}
}
