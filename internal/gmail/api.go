// Package gmail provides a Gmail API client with rate limiting and retry logic.
package gmail

import (
	"context"
	"time"
)

// Fidelity selects how much of a message a detail fetch returns.
type Fidelity string

const (
	// FidelityMetadata returns the label set and requested headers only.
	FidelityMetadata Fidelity = "metadata"
	// FidelityFull additionally returns the body parts.
	FidelityFull Fidelity = "full"
)

// Directory is the remote mailbox. Everything above the client (the
// reconciler, the rule tasks, the label mutator) depends only on this
// interface, so supporting another provider means one new implementation
// here and nothing else.
type Directory interface {
	// ListMessages returns one page of message refs matching the query
	// and label filter. A complete listing requires calling repeatedly
	// until NextPageToken is empty.
	ListMessages(ctx context.Context, query string, labelIDs []string, pageToken string) (*MessageListResponse, error)

	// GetMessage fetches a single message at the requested fidelity.
	GetMessage(ctx context.Context, messageID string, fidelity Fidelity) (*MessageDetail, error)

	// ModifyLabels adds and removes labels on a message in one call.
	// The remote side treats redundant adds/removes as no-ops.
	ModifyLabels(ctx context.Context, messageID string, add, remove []string) error

	// ListLabels returns all labels for the account.
	ListLabels(ctx context.Context) ([]*Label, error)

	// Close releases any resources held by the client.
	Close() error
}

// Label represents a Gmail label.
type Label struct {
	ID   string
	Name string
	Type string // "system" or "user"
}

// MessageRef is a message reference from list operations.
type MessageRef struct {
	ID       string
	ThreadID string
}

// MessageListResponse contains a page of message refs.
type MessageListResponse struct {
	Messages           []MessageRef
	NextPageToken      string
	ResultSizeEstimate int64
}

// MessageDetail is a single fetched message. Headers and LabelIDs are
// present at both fidelities; Parts only at FidelityFull.
type MessageDetail struct {
	ID           string
	ThreadID     string
	LabelIDs     []string
	Headers      Headers
	InternalDate int64 // Unix milliseconds
	Parts        []Part
}

// Part is one decoded MIME part of a full-fidelity message.
type Part struct {
	MimeType string
	Filename string
	Data     []byte
}

// Headers is a fixed projection of the headers the rule engine and the
// store care about, populated in a single scan over the raw header list.
// The Has* flags distinguish an absent header from an empty value.
type Headers struct {
	From       string
	To         string
	Subject    string
	Date       time.Time // zero if absent or unparseable
	HasFrom    bool
	HasTo      bool
	HasSubject bool
}

// ListAll drains the listing for the given query and label filter and
// returns the complete set of message refs. Pagination is strictly
// sequential: each page's token depends on the prior page.
func ListAll(ctx context.Context, dir Directory, query string, labelIDs []string) ([]MessageRef, error) {
	var all []MessageRef
	pageToken := ""
	for {
		resp, err := dir.ListMessages(ctx, query, labelIDs, pageToken)
		if err != nil {
			return nil, err
		}
		all = append(all, resp.Messages...)
		pageToken = resp.NextPageToken
		if pageToken == "" {
			return all, nil
		}
	}
}
