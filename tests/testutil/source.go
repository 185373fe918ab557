package testutil

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/nhle/attachsync/internal/model"
	"github.com/nhle/attachsync/internal/source"
)

// DiscoverCall records the arguments of one FakeSource.Discover call.
type DiscoverCall struct {
	Queries []string
	Since   time.Time
}

// FakeSource is an in-memory source.EmailSource. Like a real provider it
// does not de-duplicate ids across queries.
type FakeSource struct {
	// Results maps a query to the ids it matches, in order.
	Results map[string][]model.EmailID
	Emails  map[model.EmailID]model.Email

	// Payloads overrides attachment payloads by "emailId:attachmentId".
	Payloads map[string][]byte

	AuthErr     error
	DownloadErr error

	Authorized    int
	DiscoverCalls []DiscoverCall
	Fetched       []model.EmailID
	Downloads     []string
}

var _ source.EmailSource = (*FakeSource)(nil)

// NewFakeSource returns an empty FakeSource.
func NewFakeSource() *FakeSource {
	return &FakeSource{
		Results:  map[string][]model.EmailID{},
		Emails:   map[model.EmailID]model.Email{},
		Payloads: map[string][]byte{},
	}
}

// Add registers e as matching each of queries.
func (f *FakeSource) Add(e model.Email, queries ...string) {
	f.Emails[e.ID] = e
	for _, q := range queries {
		f.Results[q] = append(f.Results[q], e.ID)
	}
}

// Payload returns the bytes DownloadAttachment serves for an attachment.
func (f *FakeSource) Payload(emailID model.EmailID, attachmentID string) []byte {
	if p, ok := f.Payloads[string(emailID)+":"+attachmentID]; ok {
		return p
	}
	return []byte("payload " + string(emailID) + ":" + attachmentID)
}

// Authorize implements source.EmailSource.
func (f *FakeSource) Authorize(context.Context) error {
	if f.AuthErr != nil {
		return f.AuthErr
	}
	f.Authorized++
	return nil
}

// Discover implements source.EmailSource. A non-zero since drops emails
// dated before that day.
func (f *FakeSource) Discover(
	_ context.Context, filter source.Filter, since time.Time,
) iter.Seq2[model.EmailID, error] {
	queries := filter.Queries()
	f.DiscoverCalls = append(f.DiscoverCalls, DiscoverCall{Queries: queries, Since: since})

	day := since.UTC().Truncate(24 * time.Hour)
	return func(yield func(model.EmailID, error) bool) {
		for _, q := range queries {
			for _, id := range f.Results[q] {
				if !since.IsZero() && f.Emails[id].Date.Before(day) {
					continue
				}
				if !yield(id, nil) {
					return
				}
			}
		}
	}
}

// Fetch implements source.EmailSource.
func (f *FakeSource) Fetch(
	_ context.Context, ids iter.Seq2[model.EmailID, error],
) iter.Seq2[model.Email, error] {
	return func(yield func(model.Email, error) bool) {
		for id, err := range ids {
			if err != nil {
				yield(model.Email{}, err)
				return
			}
			e, ok := f.Emails[id]
			if !ok {
				yield(model.Email{}, fmt.Errorf("email %s not found", id))
				return
			}
			f.Fetched = append(f.Fetched, id)
			if !yield(e, nil) {
				return
			}
		}
	}
}

// DownloadAttachment implements source.EmailSource.
func (f *FakeSource) DownloadAttachment(
	_ context.Context, emailID model.EmailID, attachmentID string,
) ([]byte, error) {
	if f.DownloadErr != nil {
		return nil, f.DownloadErr
	}
	e, ok := f.Emails[emailID]
	if !ok || e.AttachmentIndex(attachmentID) == 0 {
		return nil, fmt.Errorf("attachment %s of email %s not found", attachmentID, emailID)
	}
	f.Downloads = append(f.Downloads, string(emailID)+":"+attachmentID)
	return f.Payload(emailID, attachmentID), nil
}

// Filter is a fixed list of queries.
type Filter []string

// Queries implements source.Filter.
func (f Filter) Queries() []string { return f }
