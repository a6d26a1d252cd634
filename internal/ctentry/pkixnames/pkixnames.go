// Package pkixnames maps X.500 attribute-type OIDs to the short RDN names
// used in presentation (RFC 2253), for the handful of attribute types that
// show up in Web PKI subject DNs.
package pkixnames

import "encoding/asn1"

var oidShortNames = map[string]string{
	"2.5.4.3":                    "CN",
	"2.5.4.6":                    "C",
	"2.5.4.7":                    "L",
	"2.5.4.8":                    "ST",
	"2.5.4.9":                    "STREET",
	"2.5.4.10":                   "O",
	"2.5.4.11":                   "OU",
	"2.5.4.17":                   "postalCode",
	"1.2.840.113549.1.9.1":       "emailAddress",
	"0.9.2342.19200300.100.1.25": "DC",
	"2.5.4.5":                    "serialNumber",
	"2.5.4.15":                   "businessCategory",
	"1.3.6.1.4.1.311.60.2.1.1":   "jurisdictionL",
	"1.3.6.1.4.1.311.60.2.1.2":   "jurisdictionST",
	"1.3.6.1.4.1.311.60.2.1.3":   "jurisdictionC",
}

// ShortName returns the RFC 2253 short name for oid, or its dotted-decimal
// string when no short name is registered.
func ShortName(oid asn1.ObjectIdentifier) string {
	if name, ok := oidShortNames[oid.String()]; ok {
		return name
	}
	return oid.String()
}
