package model

import "time"

// EmailID is the provider's stable identifier for a message.
type EmailID string

// AttachmentMeta identifies one attachment within an email. It is
// immutable once fetched.
type AttachmentMeta struct {
	// ID is the provider's identifier for the attachment part.
	ID string `json:"id"`

	// Filename is the attachment's original filename.
	Filename string `json:"filename"`

	// MIMEType is the declared media type (e.g., "application/pdf").
	MIMEType string `json:"mime_type"`
}

// Email holds the metadata of a fetched message. The order of
// Attachments is significant: it drives the "i_of_n" naming component.
type Email struct {
	ID          EmailID          `json:"id"`
	Date        time.Time        `json:"date"`
	From        string           `json:"from"`
	Subject     string           `json:"subject"`
	Attachments []AttachmentMeta `json:"attachments"`
}

// AttachmentIndex returns the 1-based position of the attachment with
// the given id, or 0 if the email has no such attachment.
func (e Email) AttachmentIndex(attachmentID string) int {
	for i, a := range e.Attachments {
		if a.ID == attachmentID {
			return i + 1
		}
	}
	return 0
}

// Attachment is an AttachmentMeta with its raw payload. It only exists
// between download and store.
type Attachment struct {
	AttachmentMeta
	Data []byte
}

// AttachmentContext is the unit the naming strategy operates on.
type AttachmentContext struct {
	Email      Email
	Attachment Attachment

	// Index is the 1-based position among the email's attachments.
	Index int

	// Total is the email's attachment count.
	Total int

	// Source is the provider tag embedded in generated names.
	Source string
}

// NamedAttachment is an AttachmentContext with its generated filename.
type NamedAttachment struct {
	AttachmentContext
	GeneratedName string
}

// StoredStatus is the outcome of a single storage operation.
type StoredStatus string

const (
	StatusWritten StoredStatus = "written"
	StatusSkipped StoredStatus = "skipped"
	StatusRenamed StoredStatus = "renamed"
)

// StoredFile reports where an attachment ended up and what happened.
type StoredFile struct {
	Path         string       `json:"path"`
	Status       StoredStatus `json:"status"`
	AttachmentID string       `json:"attachment_id,omitempty"`
}
