package email

import (
	"strconv"
	"strings"
	"time"
)

// Envelope holds the envelope data of an IMAP message that the pipeline
// needs.
type Envelope struct {
	MessageID string
	Subject   string
	From      string
	Date      time.Time
	UID       uint32
}

// Part describes one leaf MIME part discovered from a BODYSTRUCTURE.
type Part struct {
	// Path is the IMAP part number, e.g. [2 1] for "2.1".
	Path     []int
	Filename string
	MIMEType string
	Encoding string
}

// PartID renders a part path as its IMAP section number ("2.1").
func PartID(path []int) string {
	parts := make([]string, len(path))
	for i, n := range path {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// ParsePartID is the inverse of PartID.
func ParsePartID(id string) ([]int, error) {
	fields := strings.Split(id, ".")
	path := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 1 {
			return nil, &invalidPartError{id: id}
		}
		path[i] = n
	}
	return path, nil
}

type invalidPartError struct {
	id string
}

func (e *invalidPartError) Error() string {
	return "invalid attachment part id " + strconv.Quote(e.id)
}
