// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package network

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAWSSubnets(t *testing.T) {
	content := []byte(`{
		"prefixes": [
			{"ip_prefix": "3.5.140.0/22", "region": "ap-northeast-2", "service": "AMAZON"},
			{"ip_prefix": "3.5.140.0/22", "region": "ap-northeast-2", "service": "S3"},
			{"ip_prefix": "13.34.37.64/27", "region": "ap-southeast-4", "service": "AMAZON"}
		],
		"ipv6_prefixes": [
			{"ipv6_prefix": "2600:1f70:c000::/40", "region": "ap-northeast-2", "service": "AMAZON"}
		]
	}`)

	subnets, err := ParseAWSSubnets(content)
	require.NoError(t, err)
	require.Equal(t, CloudSubnets{
		"ap-northeast-2": {"3.5.140.0/22", "2600:1f70:c000::/40"},
		"ap-southeast-4": {"13.34.37.64/27"},
	}, subnets)

	_, err = ParseAWSSubnets([]byte("not json"))
	require.Error(t, err)
}

func TestParseGCPSubnets(t *testing.T) {
	content := []byte(`{
		"prefixes": [
			{"ipv4Prefix": "8.34.208.0/20", "service": "Google Cloud", "scope": "us-central1"},
			{"ipv6Prefix": "2600:1900:4000::/44", "service": "Google Cloud", "scope": "us-central1"},
			{"ipv4Prefix": "34.35.0.0/16", "service": "Google Cloud", "scope": "africa-south1"}
		]
	}`)

	subnets, err := ParseGCPSubnets(content)
	require.NoError(t, err)
	require.Equal(t, CloudSubnets{
		"us-central1":   {"8.34.208.0/20", "2600:1900:4000::/44"},
		"africa-south1": {"34.35.0.0/16"},
	}, subnets)
}

func TestParseOCISubnets(t *testing.T) {
	content := []byte(`{
		"last_updated_timestamp": "2024-01-09T17:06:03.842221",
		"regions": [
			{"region": "us-phoenix-1", "cidrs": [
				{"cidr": "129.146.0.0/21", "tags": ["OCI"]},
				{"cidr": "129.146.8.0/22", "tags": ["OCI"]}
			]},
			{"region": "eu-frankfurt-1", "cidrs": [
				{"cidr": "130.61.0.0/16", "tags": ["OCI"]}
			]}
		]
	}`)

	subnets, err := ParseOCISubnets(content)
	require.NoError(t, err)
	require.Equal(t, CloudSubnets{
		"us-phoenix-1":   {"129.146.0.0/21", "129.146.8.0/22"},
		"eu-frankfurt-1": {"130.61.0.0/16"},
	}, subnets)
}

func TestParseAzureSubnets(t *testing.T) {
	content := []byte(`{
		"changeNumber": 230,
		"cloud": "Public",
		"values": [
			{"name": "ActionGroup", "properties": {"region": "", "addressPrefixes": ["13.66.60.119/32"]}},
			{"name": "AzureCloud.eastus", "properties": {"region": "eastus", "addressPrefixes": ["13.68.0.0/17", "13.72.64.0/18"]}},
			{"name": "AzureCloud.westeurope", "properties": {"region": "", "addressPrefixes": ["13.69.0.0/17"]}}
		]
	}`)

	subnets, err := ParseAzureSubnets(content)
	require.NoError(t, err)
	// Only AzureCloud.* tags count; westeurope has no region property and
	// falls back to the tag name.
	require.Equal(t, CloudSubnets{
		"eastus":     {"13.68.0.0/17", "13.72.64.0/18"},
		"westeurope": {"13.69.0.0/17"},
	}, subnets)
}

func TestAzureFeedURL(t *testing.T) {
	page := `<html><body>
		<a href="https://example.com/other">other</a>
		<a data-bi-id="downloadretry" href="https://download.microsoft.com/ServiceTags_Public_20240108.json">click here</a>
	</body></html>`

	url, err := AzureFeedURL(strings.NewReader(page))
	require.NoError(t, err)
	require.Equal(t, "https://download.microsoft.com/ServiceTags_Public_20240108.json", url)

	_, err = AzureFeedURL(strings.NewReader("<html><body></body></html>"))
	require.Error(t, err)
}

func TestCloudSubnetsRegions(t *testing.T) {
	subnets := CloudSubnets{
		"eastus":     {"13.68.0.0/17"},
		"westeurope": {"13.69.0.0/17", "13.73.128.0/18"},
	}

	merged := subnets.Regions([]string{"EastUS", " westeurope "})
	require.Len(t, merged, 3)
	require.Empty(t, subnets.Regions([]string{"unknown"}))
}
