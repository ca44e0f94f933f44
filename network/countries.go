// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package network

import "strings"

// NormalizeCountry maps a country value to its ISO 3166-1 alpha-2 code.
// Two-letter values are assumed to already be codes and are upper-cased;
// anything longer is looked up by English short name. Unknown names are
// returned unchanged so the mismatch stays visible downstream.
func NormalizeCountry(value string) string {
	value = strings.TrimSpace(value)
	if len(value) == 2 {
		return strings.ToUpper(value)
	}
	if code, ok := countryCodes[strings.ToLower(value)]; ok {
		return code
	}
	return value
}

// IsCountryCode reports whether the value is syntactically an ISO
// 3166-1 alpha-2 code: exactly two upper-case letters. Full names that
// failed the NormalizeCountry lookup stay longer than two letters and
// are rejected here.
func IsCountryCode(value string) bool {
	if len(value) != 2 {
		return false
	}
	for _, c := range value {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

// English short names to alpha-2 codes, lower-cased keys. Aliases that
// show up in mirror declarations in the wild are included.
var countryCodes = map[string]string{
	"afghanistan":                      "AF",
	"albania":                          "AL",
	"algeria":                          "DZ",
	"andorra":                          "AD",
	"angola":                           "AO",
	"argentina":                        "AR",
	"armenia":                          "AM",
	"australia":                        "AU",
	"austria":                          "AT",
	"azerbaijan":                       "AZ",
	"bahrain":                          "BH",
	"bangladesh":                       "BD",
	"belarus":                          "BY",
	"belgium":                          "BE",
	"bolivia":                          "BO",
	"bosnia and herzegovina":           "BA",
	"brazil":                           "BR",
	"bulgaria":                         "BG",
	"cambodia":                         "KH",
	"cameroon":                         "CM",
	"canada":                           "CA",
	"chile":                            "CL",
	"china":                            "CN",
	"colombia":                         "CO",
	"costa rica":                       "CR",
	"croatia":                          "HR",
	"cuba":                             "CU",
	"cyprus":                           "CY",
	"czech republic":                   "CZ",
	"czechia":                          "CZ",
	"denmark":                          "DK",
	"dominican republic":               "DO",
	"ecuador":                          "EC",
	"egypt":                            "EG",
	"el salvador":                      "SV",
	"estonia":                          "EE",
	"ethiopia":                         "ET",
	"finland":                          "FI",
	"france":                           "FR",
	"georgia":                          "GE",
	"germany":                          "DE",
	"ghana":                            "GH",
	"greece":                           "GR",
	"guatemala":                        "GT",
	"honduras":                         "HN",
	"hong kong":                        "HK",
	"hungary":                          "HU",
	"iceland":                          "IS",
	"india":                            "IN",
	"indonesia":                        "ID",
	"iran":                             "IR",
	"iraq":                             "IQ",
	"ireland":                          "IE",
	"israel":                           "IL",
	"italy":                            "IT",
	"japan":                            "JP",
	"jordan":                           "JO",
	"kazakhstan":                       "KZ",
	"kenya":                            "KE",
	"kuwait":                           "KW",
	"kyrgyzstan":                       "KG",
	"laos":                             "LA",
	"latvia":                           "LV",
	"lebanon":                          "LB",
	"lithuania":                        "LT",
	"luxembourg":                       "LU",
	"macedonia":                        "MK",
	"north macedonia":                  "MK",
	"madagascar":                       "MG",
	"malaysia":                         "MY",
	"malta":                            "MT",
	"mexico":                           "MX",
	"moldova":                          "MD",
	"monaco":                           "MC",
	"mongolia":                         "MN",
	"montenegro":                       "ME",
	"morocco":                          "MA",
	"mozambique":                       "MZ",
	"myanmar":                          "MM",
	"nepal":                            "NP",
	"netherlands":                      "NL",
	"the netherlands":                  "NL",
	"new zealand":                      "NZ",
	"nicaragua":                        "NI",
	"nigeria":                          "NG",
	"norway":                           "NO",
	"oman":                             "OM",
	"pakistan":                         "PK",
	"panama":                           "PA",
	"paraguay":                         "PY",
	"peru":                             "PE",
	"philippines":                      "PH",
	"poland":                           "PL",
	"portugal":                         "PT",
	"qatar":                            "QA",
	"romania":                          "RO",
	"russia":                           "RU",
	"russian federation":               "RU",
	"saudi arabia":                     "SA",
	"senegal":                          "SN",
	"serbia":                           "RS",
	"singapore":                        "SG",
	"slovakia":                         "SK",
	"slovenia":                         "SI",
	"south africa":                     "ZA",
	"south korea":                      "KR",
	"korea":                            "KR",
	"republic of korea":                "KR",
	"spain":                            "ES",
	"sri lanka":                        "LK",
	"sweden":                           "SE",
	"switzerland":                      "CH",
	"taiwan":                           "TW",
	"tajikistan":                       "TJ",
	"tanzania":                         "TZ",
	"thailand":                         "TH",
	"tunisia":                          "TN",
	"turkey":                           "TR",
	"uganda":                           "UG",
	"ukraine":                          "UA",
	"united arab emirates":             "AE",
	"united kingdom":                   "GB",
	"great britain":                    "GB",
	"united states":                    "US",
	"united states of america":         "US",
	"usa":                              "US",
	"uruguay":                          "UY",
	"uzbekistan":                       "UZ",
	"venezuela":                        "VE",
	"vietnam":                          "VN",
	"viet nam":                         "VN",
	"yemen":                            "YE",
	"zambia":                           "ZM",
	"zimbabwe":                         "ZW",
}
