package email

import (
	"context"
	"fmt"
	"iter"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/nhle/attachsync/internal/model"
	"github.com/nhle/attachsync/internal/source"
)

// PasswordFunc resolves the IMAP password for a username.
type PasswordFunc func(username string) (string, error)

// Adapter implements source.EmailSource over IMAP. It holds one
// connection for the lifetime of a run; call Close when done.
type Adapter struct {
	cfg        model.IMAPConfig
	password   PasswordFunc
	extensions map[string]bool
	logger     *zap.Logger

	mu     sync.Mutex
	client *imapclient.Client
}

var _ source.EmailSource = (*Adapter)(nil)

// NewAdapter creates a new IMAP email source adapter.
func NewAdapter(
	cfg model.IMAPConfig, password PasswordFunc, logger *zap.Logger,
) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}

	exts := make(map[string]bool, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = true
	}

	return &Adapter{
		cfg:        cfg,
		password:   password,
		extensions: exts,
		logger:     logger.With(zap.String("source", string(source.SourceTypeIMAP))),
	}
}

// Type returns the source type identifier for IMAP.
func (a *Adapter) Type() source.SourceType {
	return source.SourceTypeIMAP
}

// Authorize connects, logs in and selects the configured mailbox. Calls
// after the first successful one are no-ops.
func (a *Adapter) Authorize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		return nil
	}

	client, err := a.connect(ctx)
	if err != nil {
		return err
	}

	a.client = client
	a.logger.Debug("imap session established",
		zap.String("host", a.cfg.Host),
		zap.String("mailbox", a.cfg.Mailbox),
	)
	return nil
}

// ValidateConnection verifies IMAP credentials by connecting,
// authenticating, and selecting the mailbox. Returns the username on
// success. It does not keep the connection.
func (a *Adapter) ValidateConnection(
	ctx context.Context,
) (string, error) {
	client, err := a.connect(ctx)
	if err != nil {
		return "", fmt.Errorf("validating email connection: %w", err)
	}
	defer func() { _ = client.Logout().Wait() }()

	return a.cfg.Username, nil
}

// Close logs out of the server if a session is open.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client == nil {
		return nil
	}
	err := a.client.Logout().Wait()
	_ = a.client.Close()
	a.client = nil
	if err != nil {
		return fmt.Errorf("logging out of IMAP: %w", err)
	}
	return nil
}

// Discover runs each filter query, with the since-constraint appended,
// as a UID SEARCH and yields the matching UIDs. Overlapping queries may
// yield the same id more than once.
func (a *Adapter) Discover(
	ctx context.Context, filter source.Filter, since time.Time,
) iter.Seq2[model.EmailID, error] {
	return func(yield func(model.EmailID, error) bool) {
		client, err := a.session(ctx)
		if err != nil {
			yield("", err)
			return
		}

		for _, q := range filter.Queries() {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}

			query := WithSince(q, since)
			criteria, err := ParseQuery(query)
			if err != nil {
				yield("", fmt.Errorf("parsing query %q: %w", query, err))
				return
			}

			uids, err := SearchUIDs(client, criteria)
			if err != nil {
				yield("", fmt.Errorf("discovering with %q: %w", query, err))
				return
			}

			a.logger.Debug("query evaluated",
				zap.String("operation", "discover"),
				zap.String("query", query),
				zap.Int("count", len(uids)),
			)

			for _, uid := range uids {
				if !yield(formatUID(uid), nil) {
					return
				}
			}
		}
	}
}

// Fetch retrieves envelope and body structure for each id and yields one
// Email per id, in input order. Only attachments with an allowed
// extension are listed.
func (a *Adapter) Fetch(
	ctx context.Context, ids iter.Seq2[model.EmailID, error],
) iter.Seq2[model.Email, error] {
	return func(yield func(model.Email, error) bool) {
		for id, err := range ids {
			if err != nil {
				yield(model.Email{}, err)
				return
			}
			if err := ctx.Err(); err != nil {
				yield(model.Email{}, err)
				return
			}

			email, err := a.fetchOne(ctx, id)
			if !yield(email, err) || err != nil {
				return
			}
		}
	}
}

func (a *Adapter) fetchOne(
	ctx context.Context, id model.EmailID,
) (model.Email, error) {
	uid, err := parseUID(string(id))
	if err != nil {
		return model.Email{}, err
	}

	client, err := a.session(ctx)
	if err != nil {
		return model.Email{}, err
	}

	env, bs, err := FetchStructure(client, uid)
	if err != nil {
		return model.Email{}, fmt.Errorf("fetching email %s: %w", id, err)
	}

	email := model.Email{
		ID:      id,
		Date:    env.Date,
		From:    env.From,
		Subject: env.Subject,
	}
	for _, part := range attachmentParts(bs) {
		if !a.allowed(part.Filename) {
			continue
		}
		email.Attachments = append(email.Attachments, model.AttachmentMeta{
			ID:       PartID(part.Path),
			Filename: part.Filename,
			MIMEType: part.MIMEType,
		})
	}

	return email, nil
}

// DownloadAttachment fetches and decodes the body part identified by
// attachmentID ("2.1").
func (a *Adapter) DownloadAttachment(
	ctx context.Context, emailID model.EmailID, attachmentID string,
) ([]byte, error) {
	uid, err := parseUID(string(emailID))
	if err != nil {
		return nil, err
	}
	path, err := ParsePartID(attachmentID)
	if err != nil {
		return nil, err
	}

	client, err := a.session(ctx)
	if err != nil {
		return nil, err
	}

	data, err := FetchPart(client, uid, path)
	if err != nil {
		return nil, fmt.Errorf(
			"downloading attachment %s of email %s: %w",
			attachmentID, emailID, err,
		)
	}
	return data, nil
}

// connect dials, authenticates and selects the mailbox.
func (a *Adapter) connect(ctx context.Context) (*imapclient.Client, error) {
	if a.cfg.Host == "" || a.cfg.Username == "" {
		return nil, &source.AuthError{
			SourceType: source.SourceTypeIMAP,
			Message:    "imap host and username are not configured",
		}
	}

	var password string
	if a.password != nil {
		pw, err := a.password(a.cfg.Username)
		if err != nil {
			return nil, &source.AuthError{
				SourceType: source.SourceTypeIMAP,
				Message: fmt.Sprintf(
					"no password available for %s (run `attachsync auth login`): %v",
					a.cfg.Username, err,
				),
			}
		}
		password = pw
	}
	if password == "" {
		return nil, &source.AuthError{
			SourceType: source.SourceTypeIMAP,
			Message:    fmt.Sprintf("empty password for %s", a.cfg.Username),
		}
	}

	client, err := NewIMAPClient(
		a.cfg.Host, a.cfg.Port, a.cfg.Username, password, a.cfg.TLS,
	).Connect(ctx)
	if err != nil {
		return nil, err
	}

	mailbox := a.cfg.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := client.Select(mailbox, nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("selecting %s: %w", mailbox, err)
	}

	return client, nil
}

// session returns the open client, authorizing first if needed.
func (a *Adapter) session(ctx context.Context) (*imapclient.Client, error) {
	if err := a.Authorize(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client, nil
}

func (a *Adapter) allowed(filename string) bool {
	if len(a.extensions) == 0 {
		return true
	}
	return a.extensions[strings.ToLower(filepath.Ext(filename))]
}

func formatUID(uid imap.UID) model.EmailID {
	return model.EmailID(strconv.FormatUint(uint64(uid), 10))
}

// parseUID converts a string UID to imap.UID.
func parseUID(s string) (imap.UID, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid IMAP UID %q", s)
	}
	return imap.UID(n), nil
}
