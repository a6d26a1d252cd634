package ctentry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"

	ctx509 "github.com/google/certificate-transparency-go/x509"
	"golang.org/x/crypto/cryptobyte"

	"ctstream.dev/internal/ctlist"
)

const (
	entryTypeX509    = 0
	entryTypePrecert = 1

	issuerKeyHashSize = 32
)

// Decode reconstructs a Record from a MerkleTreeLeaf/extra_data pair. It is
// pure: no I/O, no mutation of raw. Any malformed framing or parse failure
// yields a nil Record and a non-nil error; the caller is expected to log at
// debug and move on to the next entry.
//
// Leaf framing (RFC 6962 MerkleTreeLeaf):
//
//	byte 0:    version
//	byte 1:    leaf_type
//	bytes 2-9: timestamp (u64 BE)
//	bytes 10-11: entry_type (u16 BE)
//	X509Entry (entry_type=0):    uint24 length L, then L bytes of cert DER
//	PrecertEntry (entry_type=1): 32-byte issuer_key_hash, uint24 length L,
//	                             then L bytes of TBSCertificate DER
func Decode(raw RawEntry, src ctlist.Descriptor, idx uint64) (*Record, error) {
	s := cryptobyte.String(raw.LeafInput)

	var version, leafType uint8
	var timestampMs uint64
	var entryType uint16
	if !s.ReadUint8(&version) || !s.ReadUint8(&leafType) ||
		!s.ReadUint64(&timestampMs) || !s.ReadUint16(&entryType) {
		return nil, fmt.Errorf("ctentry: truncated leaf header")
	}

	var der []byte
	switch entryType {
	case entryTypeX509:
		var certDER cryptobyte.String
		if !s.ReadUint24LengthPrefixed(&certDER) {
			return nil, fmt.Errorf("ctentry: truncated x509_entry certificate")
		}
		der = []byte(certDER)
	case entryTypePrecert:
		var issuerKeyHash [issuerKeyHashSize]byte
		if !s.CopyBytes(issuerKeyHash[:]) {
			return nil, fmt.Errorf("ctentry: truncated precert_entry issuer key hash")
		}
		var tbsDER cryptobyte.String
		if !s.ReadUint24LengthPrefixed(&tbsDER) {
			return nil, fmt.Errorf("ctentry: truncated precert_entry TBSCertificate")
		}
		der = []byte(tbsDER)
	default:
		return nil, fmt.Errorf("ctentry: unknown entry_type %d", entryType)
	}

	cert, err := parseCertOrTBS(der, entryType)
	if err != nil {
		return nil, fmt.Errorf("ctentry: parsing certificate: %w", err)
	}

	leaf := buildLeaf(cert, der)

	chain := decodeChain(raw.ExtraData, entryType)

	return &Record{
		Source:    src,
		CertIndex: idx,
		SeenAt:    float64(timestampMs) / 1000,
		Leaf:      leaf,
		Chain:     chain,
	}, nil
}

func parseCertOrTBS(der []byte, entryType uint16) (*ctx509.Certificate, error) {
	if entryType == entryTypePrecert {
		// TBSCertificates lack the outer Certificate SEQUENCE and the
		// issuer signature; ParseTBSCertificate understands that shape.
		return ctx509.ParseTBSCertificate(der)
	}
	return ctx509.ParseCertificate(der)
}

func buildLeaf(cert *ctx509.Certificate, der []byte) Leaf {
	fingerprint := sha256.Sum256(der)

	subject := subjectRDNs(cert)
	extensions := extractExtensions(cert)
	domains := allDomains(subject, cert.DNSNames)

	return Leaf{
		Subject:      subject,
		Extensions:   extensions,
		NotBefore:    float64(cert.NotBefore.Unix()),
		NotAfter:     float64(cert.NotAfter.Unix()),
		SerialNumber: serialDecimal(cert.SerialNumber),
		Fingerprint:  hex.EncodeToString(fingerprint[:]),
		DER:          der,
		AllDomains:   domains,
	}
}

func serialDecimal(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

func allDomains(subject []RDN, sans []string) []string {
	seen := make(map[string]struct{})
	var out []string

	add := func(d string) {
		if d == "" {
			return
		}
		if _, ok := seen[d]; ok {
			return
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}

	for _, rdn := range subject {
		if rdn.Key == "CN" {
			add(rdn.Value)
			break
		}
	}
	for _, san := range sans {
		add(san)
	}
	return out
}

// decodeChain parses extra_data into its certificate_chain, nearest
// intermediate to root. Entries that fail to parse are skipped rather than
// aborting the whole chain.
//
// For X509Entry, extra_data is the chain vector directly: a uint24-length
// enclosing buffer holding a sequence of uint24-length-prefixed DER
// certificates. For PrecertEntry, extra_data is a PrecertChainEntry: a
// leading uint24-length-prefixed pre_certificate ASN1Cert precedes that same
// chain vector. The pre_certificate itself is not part of the record's
// chain and is only skipped over here.
func decodeChain(extraData []byte, entryType uint16) []ChainCert {
	s := cryptobyte.String(extraData)

	if entryType == entryTypePrecert {
		var preCert cryptobyte.String
		if !s.ReadUint24LengthPrefixed(&preCert) {
			return nil
		}
	}

	var chainBytes cryptobyte.String
	if !s.ReadUint24LengthPrefixed(&chainBytes) {
		return nil
	}

	var chain []ChainCert
	for !chainBytes.Empty() {
		var certDER cryptobyte.String
		if !chainBytes.ReadUint24LengthPrefixed(&certDER) {
			log.Printf("ctentry: truncated chain entry, stopping early")
			break
		}
		der := []byte(certDER)
		cert, err := ctx509.ParseCertificate(der)
		if err != nil {
			log.Printf("ctentry: skipping unparseable chain certificate: %v", err)
			continue
		}
		chain = append(chain, ChainCert{
			Subject: subjectRDNs(cert),
			DER:     der,
		})
	}
	return chain
}
