package gmail

import (
	"context"
	"fmt"
	"sync"
)

// ModifyCall records one ModifyLabels invocation for test assertions.
type ModifyCall struct {
	MessageID string
	Add       []string
	Remove    []string
}

// MockDirectory is an in-memory Directory implementation for tests.
type MockDirectory struct {
	mu sync.Mutex

	// Labels to return from ListLabels.
	Labels []*Label

	// Messages indexed by ID.
	Messages map[string]*MessageDetail

	// MessagePages overrides listing: each page is a list of message IDs,
	// linked by synthetic page tokens. When nil, listing returns every
	// message whose label set intersects the label filter (or all
	// messages when the filter is empty) in a single page.
	MessagePages [][]string

	// Error injection.
	LabelsError       error
	ListMessagesError error
	GetMessageError   map[string]error // per-message errors
	ModifyError       map[string]error // per-message errors

	// Call tracking for assertions.
	LabelsCalls       int
	ListMessagesCalls int
	LastQuery         string
	LastLabelFilter   []string
	GetMessageCalls   []string
	LastFidelity      Fidelity
	ModifyCalls       []ModifyCall
}

// NewMockDirectory creates a new mock with empty state.
func NewMockDirectory() *MockDirectory {
	return &MockDirectory{
		Messages:        make(map[string]*MessageDetail),
		GetMessageError: make(map[string]error),
		ModifyError:     make(map[string]error),
	}
}

// ListLabels returns the mock labels.
func (m *MockDirectory) ListLabels(ctx context.Context) ([]*Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LabelsCalls++

	if m.LabelsError != nil {
		return nil, m.LabelsError
	}
	if m.Labels == nil {
		return []*Label{
			{ID: "INBOX", Name: "INBOX", Type: "system"},
			{ID: "SENT", Name: "SENT", Type: "system"},
		}, nil
	}
	return m.Labels, nil
}

// ListMessages returns mock message refs with pagination.
func (m *MockDirectory) ListMessages(ctx context.Context, query string, labelIDs []string, pageToken string) (*MessageListResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListMessagesCalls++
	m.LastQuery = query
	m.LastLabelFilter = labelIDs

	if m.ListMessagesError != nil {
		return nil, m.ListMessagesError
	}

	pageNum := 0
	if pageToken != "" {
		if _, err := fmt.Sscanf(pageToken, "page_%d", &pageNum); err != nil {
			return nil, fmt.Errorf("invalid page token: %s", pageToken)
		}
	}

	if len(m.MessagePages) == 0 {
		var messages []MessageRef
		for id, msg := range m.Messages {
			if len(labelIDs) > 0 && !hasAnyLabel(msg.LabelIDs, labelIDs) {
				continue
			}
			messages = append(messages, MessageRef{ID: id, ThreadID: msg.ThreadID})
		}
		return &MessageListResponse{
			Messages:           messages,
			ResultSizeEstimate: int64(len(messages)),
		}, nil
	}

	if pageNum >= len(m.MessagePages) {
		return &MessageListResponse{}, nil
	}

	page := m.MessagePages[pageNum]
	messages := make([]MessageRef, len(page))
	for i, id := range page {
		threadID := "thread_" + id
		if msg, ok := m.Messages[id]; ok && msg.ThreadID != "" {
			threadID = msg.ThreadID
		}
		messages[i] = MessageRef{ID: id, ThreadID: threadID}
	}

	var next string
	if pageNum+1 < len(m.MessagePages) {
		next = fmt.Sprintf("page_%d", pageNum+1)
	}

	total := int64(0)
	for _, p := range m.MessagePages {
		total += int64(len(p))
	}

	return &MessageListResponse{
		Messages:           messages,
		NextPageToken:      next,
		ResultSizeEstimate: total,
	}, nil
}

// GetMessage returns a mock message.
func (m *MockDirectory) GetMessage(ctx context.Context, messageID string, fidelity Fidelity) (*MessageDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetMessageCalls = append(m.GetMessageCalls, messageID)
	m.LastFidelity = fidelity

	if err, ok := m.GetMessageError[messageID]; ok && err != nil {
		return nil, err
	}

	msg, ok := m.Messages[messageID]
	if !ok {
		return nil, &NotFoundError{Path: "/messages/" + messageID}
	}

	if fidelity == FidelityMetadata {
		meta := *msg
		meta.Parts = nil
		return &meta, nil
	}
	return msg, nil
}

// ModifyLabels records the call and applies the delta to the stored
// message's label set, treating redundant adds/removes as no-ops like
// the real API.
func (m *MockDirectory) ModifyLabels(ctx context.Context, messageID string, add, remove []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ModifyCalls = append(m.ModifyCalls, ModifyCall{MessageID: messageID, Add: add, Remove: remove})

	if err, ok := m.ModifyError[messageID]; ok && err != nil {
		return err
	}

	msg, ok := m.Messages[messageID]
	if !ok {
		return &NotFoundError{Path: "/messages/" + messageID}
	}

	labels := make(map[string]bool, len(msg.LabelIDs))
	for _, l := range msg.LabelIDs {
		labels[l] = true
	}
	for _, l := range remove {
		delete(labels, l)
	}
	for _, l := range add {
		labels[l] = true
	}

	msg.LabelIDs = msg.LabelIDs[:0]
	for l := range labels {
		msg.LabelIDs = append(msg.LabelIDs, l)
	}
	return nil
}

// Close is a no-op for the mock.
func (m *MockDirectory) Close() error {
	return nil
}

// AddMessage adds a message to the mock store.
func (m *MockDirectory) AddMessage(id string, headers Headers, labelIDs []string, bodyText string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	detail := &MessageDetail{
		ID:           id,
		ThreadID:     "thread_" + id,
		LabelIDs:     labelIDs,
		Headers:      headers,
		InternalDate: 1704067200000, // 2024-01-01 00:00:00 UTC
	}
	if bodyText != "" {
		detail.Parts = []Part{{MimeType: "text/plain", Data: []byte(bodyText)}}
	}
	m.Messages[id] = detail
}

func hasAnyLabel(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// Ensure MockDirectory implements the Directory interface.
var _ Directory = (*MockDirectory)(nil)
