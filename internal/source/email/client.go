package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"

	"github.com/nhle/attachsync/internal/source"
)

// IMAPClient wraps go-imap v2 for connecting to and querying IMAP servers.
type IMAPClient struct {
	host     string
	port     string
	username string
	password string
	tls      bool
}

// NewIMAPClient creates a new IMAP client configuration.
func NewIMAPClient(
	host, port, username, password string, tls bool,
) *IMAPClient {
	return &IMAPClient{
		host:     host,
		port:     port,
		username: username,
		password: password,
		tls:      tls,
	}
}

// Connect establishes a connection to the IMAP server, authenticates,
// and returns the connected client. The caller is responsible for
// calling Logout/Close on the returned client.
func (c *IMAPClient) Connect(
	_ context.Context,
) (*imapclient.Client, error) {
	addr := c.host + ":" + c.port

	var client *imapclient.Client
	var err error

	if c.tls {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &source.AuthError{
			SourceType: source.SourceTypeIMAP,
			Message: fmt.Sprintf(
				"authentication failed for %s: %v",
				c.username, err,
			),
		}
	}

	return client, nil
}

// SearchUIDs runs a UID SEARCH on the selected mailbox.
func SearchUIDs(
	client *imapclient.Client, criteria *imap.SearchCriteria,
) ([]imap.UID, error) {
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	return searchData.AllUIDs(), nil
}

// FetchStructure fetches the envelope and body structure of one message.
func FetchStructure(
	client *imapclient.Client, uid imap.UID,
) (Envelope, imap.BodyStructure, error) {
	fetchOpts := &imap.FetchOptions{
		Envelope:      true,
		UID:           true,
		BodyStructure: &imap.FetchItemBodyStructure{Extended: true},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uid), fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return Envelope{}, nil, fmt.Errorf("message UID %d not found", uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		return Envelope{}, nil, fmt.Errorf("collecting message data: %w", err)
	}

	if err := fetchCmd.Close(); err != nil {
		return Envelope{}, nil, fmt.Errorf("closing fetch: %w", err)
	}

	return envelopeFromBuffer(buf), buf.BodyStructure, nil
}

// FetchPart downloads a single MIME part by path and decodes its
// Content-Transfer-Encoding.
func FetchPart(
	client *imapclient.Client, uid imap.UID, path []int,
) ([]byte, error) {
	bodySection := &imap.FetchItemBodySection{
		Part: path,
		Peek: true,
	}

	fetchOpts := &imap.FetchOptions{
		UID:           true,
		BodyStructure: &imap.FetchItemBodyStructure{Extended: true},
		BodySection:   []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uid), fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message data: %w", err)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("closing fetch: %w", err)
	}

	part, ok := findPart(buf.BodyStructure, path)
	if !ok {
		return nil, fmt.Errorf(
			"part %s of message UID %d not found", PartID(path), uid,
		)
	}

	raw := buf.FindBodySection(bodySection)
	if raw == nil {
		return nil, fmt.Errorf(
			"no data for part %s of message UID %d", PartID(path), uid,
		)
	}

	return decodePart(raw, part.Encoding)
}

// decodePart undoes the Content-Transfer-Encoding of a raw part body
// using go-message.
func decodePart(raw []byte, encoding string) ([]byte, error) {
	header := message.Header{Header: textproto.HeaderFromMap(map[string][]string{
		"Content-Transfer-Encoding": {encoding},
	})}

	entity, err := message.New(header, bytes.NewReader(raw))
	if err != nil && !message.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("decoding part: %w", err)
	}

	data, err := io.ReadAll(entity.Body)
	if err != nil {
		return nil, fmt.Errorf("reading decoded part: %w", err)
	}

	return data, nil
}

// attachmentParts walks a body structure and returns the leaf parts that
// carry a filename, in document order.
func attachmentParts(bs imap.BodyStructure) []Part {
	if bs == nil {
		return nil
	}

	var parts []Part
	bs.Walk(func(path []int, node imap.BodyStructure) bool {
		single, ok := node.(*imap.BodyStructureSinglePart)
		if !ok {
			return true
		}
		filename := single.Filename()
		if filename == "" {
			return true
		}
		parts = append(parts, Part{
			Path:     slices.Clone(path),
			Filename: filename,
			MIMEType: single.MediaType(),
			Encoding: single.Encoding,
		})
		return true
	})

	return parts
}

// findPart locates the single part at path within a body structure.
func findPart(bs imap.BodyStructure, path []int) (Part, bool) {
	if bs == nil {
		return Part{}, false
	}

	var found Part
	var ok bool
	bs.Walk(func(p []int, node imap.BodyStructure) bool {
		single, isSingle := node.(*imap.BodyStructureSinglePart)
		if isSingle && slices.Equal(p, path) {
			found = Part{
				Path:     slices.Clone(p),
				Filename: single.Filename(),
				MIMEType: single.MediaType(),
				Encoding: single.Encoding,
			}
			ok = true
		}
		return !ok
	})

	return found, ok
}

// envelopeFromBuffer extracts an Envelope from a FetchMessageBuffer.
func envelopeFromBuffer(buf *imapclient.FetchMessageBuffer) Envelope {
	env := Envelope{
		UID: uint32(buf.UID),
	}

	if buf.Envelope != nil {
		env.MessageID = buf.Envelope.MessageID
		env.Subject = buf.Envelope.Subject
		env.Date = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			if from.Name != "" {
				env.From = fmt.Sprintf("%s <%s>", from.Name, from.Addr())
			} else {
				env.From = from.Addr()
			}
		}
	}

	return env
}
