package ctentry

import (
	"fmt"
	"strings"

	ctx509 "github.com/google/certificate-transparency-go/x509"
	"ctstream.dev/internal/ctentry/pkixnames"
)

// subjectRDNs walks the certificate's raw RDNSequence left to right,
// producing an ordered key/value list. Unlike a map, this preserves
// presentation order and lets a later duplicate key overwrite an earlier
// value in place.
func subjectRDNs(cert *ctx509.Certificate) []RDN {
	var out []RDN
	index := make(map[string]int)

	for _, atv := range cert.Subject.Names {
		key := pkixnames.ShortName(atv.Type)
		value := fmt.Sprintf("%v", atv.Value)

		if i, ok := index[key]; ok {
			out[i].Value = value
			continue
		}
		index[key] = len(out)
		out = append(out, RDN{Key: key, Value: value})
	}
	return out
}

// extractExtensions populates the textual extension map spec §4.2 requires.
// An extension that the certificate does not carry is simply absent from
// the map rather than present with a zero value.
func extractExtensions(cert *ctx509.Certificate) map[string]string {
	ext := make(map[string]string)

	if len(cert.DNSNames) > 0 {
		names := make([]string, len(cert.DNSNames))
		for i, n := range cert.DNSNames {
			names[i] = "DNS:" + n
		}
		ext["subjectAltName"] = strings.Join(names, ",")
	}

	if cert.KeyUsage != 0 {
		if ku := formatKeyUsage(cert.KeyUsage); ku != "" {
			ext["keyUsage"] = ku
		}
	}

	if len(cert.ExtKeyUsage) > 0 {
		ext["extendedKeyUsage"] = formatExtKeyUsage(cert.ExtKeyUsage)
	}

	if cert.BasicConstraintsValid {
		if cert.IsCA {
			ext["basicConstraints"] = "CA:true"
		} else {
			ext["basicConstraints"] = "CA:false"
		}
	}

	return ext
}

var keyUsageBits = []struct {
	bit  ctx509.KeyUsage
	name string
}{
	{ctx509.KeyUsageDigitalSignature, "digitalSignature"},
	{ctx509.KeyUsageContentCommitment, "contentCommitment"},
	{ctx509.KeyUsageKeyEncipherment, "keyEncipherment"},
	{ctx509.KeyUsageDataEncipherment, "dataEncipherment"},
	{ctx509.KeyUsageKeyAgreement, "keyAgreement"},
	{ctx509.KeyUsageCertSign, "certSign"},
	{ctx509.KeyUsageCRLSign, "cRLSign"},
	{ctx509.KeyUsageEncipherOnly, "encipherOnly"},
	{ctx509.KeyUsageDecipherOnly, "decipherOnly"},
}

func formatKeyUsage(ku ctx509.KeyUsage) string {
	var names []string
	for _, b := range keyUsageBits {
		if ku&b.bit != 0 {
			names = append(names, b.name)
		}
	}
	return strings.Join(names, ",")
}

var extKeyUsageNames = map[ctx509.ExtKeyUsage]string{
	ctx509.ExtKeyUsageServerAuth:                "serverAuth",
	ctx509.ExtKeyUsageClientAuth:                "clientAuth",
	ctx509.ExtKeyUsageCodeSigning:                "codeSigning",
	ctx509.ExtKeyUsageEmailProtection:            "emailProtection",
	ctx509.ExtKeyUsageTimeStamping:                "timeStamping",
	ctx509.ExtKeyUsageOCSPSigning:                 "ocspSigning",
	ctx509.ExtKeyUsageMicrosoftServerGatedCrypto:  "msServerGatedCrypto",
	ctx509.ExtKeyUsageNetscapeServerGatedCrypto:   "netscapeServerGatedCrypto",
}

func formatExtKeyUsage(kus []ctx509.ExtKeyUsage) string {
	names := make([]string, 0, len(kus))
	for _, ku := range kus {
		if name, ok := extKeyUsageNames[ku]; ok {
			names = append(names, name)
		} else {
			names = append(names, fmt.Sprintf("unknown(%d)", ku))
		}
	}
	return strings.Join(names, ",")
}
