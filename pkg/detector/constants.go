package detector

import "github.com/hervehildenbrand/bgp-leakscan/pkg/models"

// Tier1ASNs contains the ASNs of known Tier-1 transit providers.
// A full-view leak by one of them reaches most of the Internet.
var Tier1ASNs = map[uint32]string{
	174:   "Cogent Communications",
	209:   "Lumen (CenturyLink)",
	286:   "KPN",
	701:   "Verizon",
	1239:  "Sprint",
	1299:  "Telia",
	1828:  "Unitas Global",
	2914:  "NTT America",
	3257:  "GTT",
	3320:  "Deutsche Telekom",
	3356:  "Lumen (Level3)",
	3491:  "PCCW Global",
	5511:  "Orange",
	6453:  "Tata Communications",
	6461:  "Zayo",
	6762:  "Telecom Italia Sparkle",
	6830:  "Liberty Global",
	6939:  "Hurricane Electric",
	7018:  "AT&T",
	12956: "Telefonica",
}

// IsTier1 checks if an ASN is a known Tier-1 provider.
func IsTier1(asn uint32) bool {
	_, ok := Tier1ASNs[asn]
	return ok
}

// LeakSeverity grades a detected leak. Leaks from Tier-1 providers are
// critical; several leak days for the same AS over the period rank high.
func LeakSeverity(asn uint32, leakDays int) string {
	switch {
	case IsTier1(asn):
		return models.SeverityCritical
	case leakDays > 1:
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}
