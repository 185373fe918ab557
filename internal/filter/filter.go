// Package filter provides the query generators that select candidate
// emails from a mailbox.
package filter

import "github.com/nhle/attachsync/internal/source"

// Invoice selects invoice and receipt emails with attachments, first by
// subject keyword and then by known vendor senders.
type Invoice struct{}

var _ source.Filter = Invoice{}

// Queries returns the invoice queries in the IMAP source's query syntax.
func (Invoice) Queries() []string {
	return []string{
		`has:attachment subject:invoice|receipt|fatura|recibo|order|confirmation|pagamento|comprovante|"extrato combinado"`,
		"has:attachment from:fnac|worten|apple|amazon|uber|wise|n26|netflix|spotify|google|microsoft|adobe|github|vercel|railway|hetzner|namecheap|stripe|paddle|millennium",
	}
}

// Static is a filter backed by a fixed list of queries, typically from
// configuration.
type Static []string

var _ source.Filter = Static(nil)

// Queries returns the configured queries.
func (s Static) Queries() []string {
	return []string(s)
}

// FromConfig returns a Static filter when queries is non-empty, and the
// Invoice filter otherwise.
func FromConfig(queries []string) source.Filter {
	if len(queries) == 0 {
		return Invoice{}
	}
	return Static(queries)
}
