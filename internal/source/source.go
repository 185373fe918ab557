package source

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/nhle/attachsync/internal/model"
)

// AuthError indicates that credentials are missing or were rejected by
// the provider. It is fatal: a run aborts before any stage starts.
type AuthError struct {
	SourceType SourceType
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.SourceType, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// SourceType identifies the kind of mailbox provider.
type SourceType string

const (
	SourceTypeIMAP SourceType = "imap"
)

// Filter produces the provider-native queries that select candidate
// emails. Queries are evaluated in order.
type Filter interface {
	Queries() []string
}

// EmailSource defines the contract every mailbox provider must implement.
type EmailSource interface {
	// Authorize establishes credentials. It is idempotent and fails
	// with an *AuthError when no usable credentials are available.
	Authorize(ctx context.Context) error

	// Discover enumerates the ids matching the filter's queries. A
	// non-zero since restricts results to messages on or after that
	// day, expressed in the provider's query syntax.
	Discover(
		ctx context.Context, filter Filter, since time.Time,
	) iter.Seq2[model.EmailID, error]

	// Fetch yields one Email per input id, preserving order.
	Fetch(
		ctx context.Context, ids iter.Seq2[model.EmailID, error],
	) iter.Seq2[model.Email, error]

	// DownloadAttachment returns the decoded payload of an attachment.
	// It fails if the attachment no longer exists.
	DownloadAttachment(
		ctx context.Context, emailID model.EmailID, attachmentID string,
	) ([]byte, error)
}
