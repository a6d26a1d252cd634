package ctentry

import "ctstream.dev/internal/ctlist"

// ToLite strips DER bytes from the leaf and every chain entry, leaving
// every other field untouched. Used for the LITE fan-out view, which
// carries the same shape as FULL minus the raw certificate bytes.
func ToLite(r Record) Record {
	out := r
	out.Leaf.DER = nil

	if len(r.Chain) > 0 {
		chain := make([]ChainCert, len(r.Chain))
		for i, c := range r.Chain {
			chain[i] = ChainCert{Subject: c.Subject, DER: nil}
		}
		out.Chain = chain
	}
	return out
}

// DomainsOnlyView is the minimal projection served on the DOMAINS_ONLY view.
type DomainsOnlyView struct {
	Domains []string          `json:"domains"`
	Seen    float64           `json:"seen"`
	Source  ctlist.Descriptor `json:"source"`
}

// ToDomainsOnly projects r down to its domain set, timestamp, and source.
func ToDomainsOnly(r Record) DomainsOnlyView {
	return DomainsOnlyView{
		Domains: r.Leaf.AllDomains,
		Seen:    r.SeenAt,
		Source:  r.Source,
	}
}
