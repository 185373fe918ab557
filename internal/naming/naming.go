// Package naming derives deterministic, human-readable filenames for
// stored attachments.
package naming

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/nhle/attachsync/internal/model"
)

// maxSegment caps the length, in runes, of each sanitized segment.
const maxSegment = 100

// Strategy maps an attachment context to a filename. Implementations
// must be pure.
type Strategy interface {
	Generate(ctx model.AttachmentContext) string
}

// Generate applies s to ctx.
func Generate(s Strategy, ctx model.AttachmentContext) string {
	return s.Generate(ctx)
}

// genericPrefixes are local parts that identify a mailbox rather than a
// person, in English and Portuguese.
var genericPrefixes = map[string]bool{
	// english
	"noreply":       true,
	"no-reply":      true,
	"no_reply":      true,
	"auto-confirm":  true,
	"autoconfirm":   true,
	"info":          true,
	"support":       true,
	"billing":       true,
	"invoices":      true,
	"invoice":       true,
	"notifications": true,
	"notification":  true,
	"alerts":        true,
	"alert":         true,
	"donotreply":    true,
	"do-not-reply":  true,
	"mailer-daemon": true,
	"mailer":        true,
	"news":          true,
	"newsletter":    true,
	"updates":       true,
	"orders":        true,
	"order":         true,
	"receipts":      true,
	"receipt":       true,
	"confirm":       true,
	"confirmation":  true,
	"hello":         true,
	"contact":       true,
	"team":          true,
	"admin":         true,
	"system":        true,
	"service":       true,
	"services":      true,

	// portuguese
	"naoresponder":        true,
	"nao-responder":       true,
	"nao_responder":       true,
	"naoresponda":         true,
	"nao-responda":        true,
	"semresposta":         true,
	"sem-resposta":        true,
	"faturacao":           true,
	"faturacaoeletronica": true,
	"faturas":             true,
	"fatura":              true,
	"recibos":             true,
	"recibo":              true,
	"cobranca":            true,
	"cobrancas":           true,
	"pagamentos":          true,
	"pagamento":           true,
	"contato":             true,
	"contacto":            true,
	"atendimento":         true,
	"comunicacao":         true,
	"avisos":              true,
	"aviso":               true,

	// compounds, matched after normalization
	"noreplyfaturaseletronicas": true,
	"faturaseletronicas":        true,
}

// stripSubdomains are leading domain labels skipped when deriving the
// company name.
var stripSubdomains = map[string]bool{
	"mail":   true,
	"www":    true,
	"app":    true,
	"api":    true,
	"smtp":   true,
	"email":  true,
	"e-mail": true,
}

var (
	unsafeChars  = regexp.MustCompile(`[/\\?%*:|"<>]`)
	angleAddress = regexp.MustCompile(`<(.+?)>`)
	localNoise   = regexp.MustCompile(`[._-]`)
)

// Sanitize replaces filesystem-unsafe characters with "-" and caps the
// result at 100 runes.
func Sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(s, "-")
	if utf8.RuneCountInString(s) <= maxSegment {
		return s
	}
	return string([]rune(s)[:maxSegment])
}

// Sender holds the parts of a From header used in filenames.
type Sender struct {
	// Person is empty for generic mailboxes such as noreply@.
	Person  string
	Company string
}

// String renders the sender component: "person company" or "company".
func (s Sender) String() string {
	if s.Person == "" {
		return s.Company
	}
	return s.Person + " " + s.Company
}

// ParseSender extracts person and company from a From header value such
// as "Jane Doe <jane.doe@example.com>" or "billing@mail.acme.io".
func ParseSender(from string) Sender {
	addr := from
	if m := angleAddress.FindStringSubmatch(from); m != nil {
		addr = m[1]
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return Sender{Company: "unknown"}
	}

	local, domain, ok := strings.Cut(addr, "@")
	if !ok || domain == "" {
		return Sender{Company: Sanitize(local)}
	}

	labels := strings.Split(domain, ".")
	company := labels[0]
	if stripSubdomains[strings.ToLower(company)] && len(labels) > 2 {
		company = labels[1]
	}
	company = Sanitize(strings.ToLower(company))

	normalized := strings.ToLower(localNoise.ReplaceAllString(local, ""))
	if genericPrefixes[normalized] || genericPrefixes[strings.ToLower(local)] {
		return Sender{Company: company}
	}

	person := normalized
	if person == "" {
		person = "unknown"
	}
	return Sender{Person: Sanitize(person), Company: company}
}

// SplitExt splits a filename at its last dot. The extension keeps the
// dot; a name without a dot has an empty extension.
func SplitExt(filename string) (base, ext string) {
	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return filename, ""
	}
	return filename[:i], filename[i:]
}

// InvoiceStrategy names attachments as
//
//	{date} {sender} {base} id_{emailId} {index}_of_{total} -- source__{source}{ext}
//
// e.g. "2024-03-09 janedoe example invoice-42 id_118 1_of_2 -- source__imap.pdf".
type InvoiceStrategy struct{}

var _ Strategy = InvoiceStrategy{}

// Generate implements Strategy.
func (InvoiceStrategy) Generate(ctx model.AttachmentContext) string {
	date := "unknown-date"
	if !ctx.Email.Date.IsZero() {
		date = ctx.Email.Date.UTC().Format("2006-01-02")
	}

	base, ext := SplitExt(ctx.Attachment.Filename)

	return fmt.Sprintf("%s %s %s id_%s %d_of_%d -- source__%s%s",
		date,
		ParseSender(ctx.Email.From),
		Sanitize(base),
		Sanitize(string(ctx.Email.ID)),
		ctx.Index,
		ctx.Total,
		Sanitize(ctx.Source),
		Sanitize(ext),
	)
}
