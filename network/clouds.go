// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/html"
)

// Published IP-range documents of the supported cloud providers.
const (
	AWSSubnetsURL     = "https://ip-ranges.amazonaws.com/ip-ranges.json"
	GCPSubnetsURL     = "https://www.gstatic.com/ipranges/cloud.json"
	OCISubnetsURL     = "https://docs.oracle.com/en-us/iaas/tools/public_ip_ranges.json"
	AzureCatalogueURL = "https://www.microsoft.com/en-us/download/confirmation.aspx?id=56519"
)

// CloudSubnets maps a lower-cased provider region to its CIDR blocks
type CloudSubnets map[string][]string

// Regions returns the subnets of the given regions merged together
func (s CloudSubnets) Regions(regions []string) []string {
	var merged []string
	for _, region := range regions {
		merged = append(merged, s[strings.ToLower(strings.TrimSpace(region))]...)
	}
	return merged
}

// ParseAWSSubnets decodes the AWS ip-ranges document. IPv4 and IPv6
// prefixes are merged per region, duplicates dropped.
func ParseAWSSubnets(content []byte) (CloudSubnets, error) {
	var doc struct {
		Prefixes []struct {
			IPPrefix string `json:"ip_prefix"`
			Region   string `json:"region"`
		} `json:"prefixes"`
		IPv6Prefixes []struct {
			IPv6Prefix string `json:"ipv6_prefix"`
			Region     string `json:"region"`
		} `json:"ipv6_prefixes"`
	}
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, err
	}

	subnets := CloudSubnets{}
	seen := map[string]bool{}
	add := func(region, prefix string) {
		if prefix == "" {
			return
		}
		region = strings.ToLower(region)
		key := region + "|" + prefix
		if seen[key] {
			return
		}
		seen[key] = true
		subnets[region] = append(subnets[region], prefix)
	}
	for _, p := range doc.Prefixes {
		add(p.Region, p.IPPrefix)
	}
	for _, p := range doc.IPv6Prefixes {
		add(p.Region, p.IPv6Prefix)
	}
	return subnets, nil
}

// ParseGCPSubnets decodes the GCP cloud.json document
func ParseGCPSubnets(content []byte) (CloudSubnets, error) {
	var doc struct {
		Prefixes []struct {
			IPv4Prefix string `json:"ipv4Prefix"`
			IPv6Prefix string `json:"ipv6Prefix"`
			Scope      string `json:"scope"`
		} `json:"prefixes"`
	}
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, err
	}

	subnets := CloudSubnets{}
	for _, p := range doc.Prefixes {
		scope := strings.ToLower(p.Scope)
		if p.IPv4Prefix != "" {
			subnets[scope] = append(subnets[scope], p.IPv4Prefix)
		}
		if p.IPv6Prefix != "" {
			subnets[scope] = append(subnets[scope], p.IPv6Prefix)
		}
	}
	return subnets, nil
}

// ParseOCISubnets decodes the OCI public_ip_ranges document
func ParseOCISubnets(content []byte) (CloudSubnets, error) {
	var doc struct {
		Regions []struct {
			Region string `json:"region"`
			CIDRs  []struct {
				CIDR string `json:"cidr"`
			} `json:"cidrs"`
		} `json:"regions"`
	}
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, err
	}

	subnets := CloudSubnets{}
	for _, r := range doc.Regions {
		region := strings.ToLower(r.Region)
		for _, c := range r.CIDRs {
			if c.CIDR != "" {
				subnets[region] = append(subnets[region], c.CIDR)
			}
		}
	}
	return subnets, nil
}

// ParseAzureSubnets decodes the Azure service-tags document, keeping
// the AzureCloud.<region> entries only.
func ParseAzureSubnets(content []byte) (CloudSubnets, error) {
	var doc struct {
		Values []struct {
			Name       string `json:"name"`
			Properties struct {
				Region          string   `json:"region"`
				AddressPrefixes []string `json:"addressPrefixes"`
			} `json:"properties"`
		} `json:"values"`
	}
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, err
	}

	subnets := CloudSubnets{}
	for _, v := range doc.Values {
		if !strings.HasPrefix(v.Name, "AzureCloud.") {
			continue
		}
		region := strings.ToLower(v.Properties.Region)
		if region == "" {
			region = strings.ToLower(strings.TrimPrefix(v.Name, "AzureCloud."))
		}
		subnets[region] = append(subnets[region], v.Properties.AddressPrefixes...)
	}
	return subnets, nil
}

// AzureFeedURL scrapes the download catalogue page for the service-tags
// document link. The page carries a retry anchor tagged with
// data-bi-id=downloadretry pointing at the JSON.
func AzureFeedURL(page io.Reader) (string, error) {
	doc, err := html.Parse(page)
	if err != nil {
		return "", err
	}

	var href string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if href != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			var biID, link string
			for _, attr := range n.Attr {
				switch attr.Key {
				case "data-bi-id":
					biID = attr.Val
				case "href":
					link = attr.Val
				}
			}
			if biID == "downloadretry" && link != "" {
				href = link
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if href == "" {
		return "", errors.New("no download link found in catalogue page")
	}
	return href, nil
}

// FetchCloudSubnets downloads and parses the feed of one provider.
// Supported values of cloudType are aws, azure, gcp and oci.
func FetchCloudSubnets(ctx context.Context, client *http.Client, cloudType string) (CloudSubnets, error) {
	switch strings.ToLower(cloudType) {
	case "aws":
		content, err := fetch(ctx, client, AWSSubnetsURL)
		if err != nil {
			return nil, err
		}
		return ParseAWSSubnets(content)
	case "gcp":
		content, err := fetch(ctx, client, GCPSubnetsURL)
		if err != nil {
			return nil, err
		}
		return ParseGCPSubnets(content)
	case "oci":
		content, err := fetch(ctx, client, OCISubnetsURL)
		if err != nil {
			return nil, err
		}
		return ParseOCISubnets(content)
	case "azure":
		page, err := fetch(ctx, client, AzureCatalogueURL)
		if err != nil {
			return nil, err
		}
		feedURL, err := AzureFeedURL(strings.NewReader(string(page)))
		if err != nil {
			return nil, err
		}
		content, err := fetch(ctx, client, feedURL)
		if err != nil {
			return nil, err
		}
		return ParseAzureSubnets(content)
	}
	return nil, fmt.Errorf("unsupported cloud type %q", cloudType)
}

func fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
