package sync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"mailsift/internal/gmail"
	"mailsift/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	return st
}

func TestComputeDiff(t *testing.T) {
	remote := []string{"3", "1", "2", "2"} // duplicate listing entry
	local := map[string]bool{"2": true, "4": true}

	diff := ComputeDiff(remote, local)

	want := Diff{
		New:     []string{"1", "3"},
		Changed: []string{"2"},
		Gone:    []string{"4"},
	}
	if d := cmp.Diff(want, diff); d != "" {
		t.Errorf("diff mismatch (-want +got):\n%s", d)
	}
}

func TestComputeDiffEmptySides(t *testing.T) {
	diff := ComputeDiff(nil, map[string]bool{"a": true})
	if len(diff.New) != 0 || len(diff.Changed) != 0 {
		t.Errorf("expected only gone entries, got %+v", diff)
	}
	if d := cmp.Diff([]string{"a"}, diff.Gone); d != "" {
		t.Errorf("gone mismatch (-want +got):\n%s", d)
	}

	diff = ComputeDiff([]string{"a"}, map[string]bool{})
	if d := cmp.Diff([]string{"a"}, diff.New); d != "" {
		t.Errorf("new mismatch (-want +got):\n%s", d)
	}
}

func TestComputeLabelDelta(t *testing.T) {
	tests := []struct {
		name          string
		remote, local []string
		want          LabelDelta
	}{
		{
			name:   "drift both ways",
			remote: []string{"INBOX", "Label_1"},
			local:  []string{"INBOX", "SPAM"},
			want:   LabelDelta{Add: []string{"Label_1"}, Remove: []string{"SPAM"}},
		},
		{
			name:   "in sync",
			remote: []string{"INBOX"},
			local:  []string{"INBOX"},
			want:   LabelDelta{},
		},
		{
			name:   "remote empty",
			remote: nil,
			local:  []string{"INBOX"},
			want:   LabelDelta{Remove: []string{"INBOX"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeLabelDelta(tt.remote, tt.local)
			if d := cmp.Diff(tt.want, got); d != "" {
				t.Errorf("delta mismatch (-want +got):\n%s", d)
			}
			if got.Empty() != (len(tt.want.Add) == 0 && len(tt.want.Remove) == 0) {
				t.Errorf("Empty() = %v, inconsistent with delta %+v", got.Empty(), got)
			}
		})
	}
}

func TestUpdateFullRun(t *testing.T) {
	mock := gmail.NewMockDirectory()
	mock.AddMessage("1", gmail.Headers{
		From: "Alice <alice@example.com>", HasFrom: true,
		To: "bob@example.com", HasTo: true,
		Subject: "hello", HasSubject: true,
		Date:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}, []string{"INBOX"}, "hi bob")
	mock.AddMessage("2", gmail.Headers{
		From: "carol@example.com", HasFrom: true,
		Subject: "old message", HasSubject: true,
	}, []string{"INBOX"}, "")
	mock.AddMessage("3", gmail.Headers{
		From: "dave@example.com", HasFrom: true,
	}, []string{"SENT"}, "body three")
	mock.MessagePages = [][]string{{"1", "2"}, {"3"}}

	st := newTestStore(t)

	// Message 2 is already mirrored with a stale label set; message 4
	// is mirrored but no longer listed remotely.
	if err := st.InsertMessage(&store.Message{EmailID: "2"}, "thread_2",
		[]string{"INBOX", "SPAM"}, nil, []string{"carol@example.com"}); err != nil {
		t.Fatalf("seed message 2: %v", err)
	}
	if err := st.InsertMessage(&store.Message{EmailID: "4"}, "thread_4",
		[]string{"INBOX"}, nil, nil); err != nil {
		t.Fatalf("seed message 4: %v", err)
	}

	syncer := New(mock, st, nil)
	summary, err := syncer.Update(context.Background())
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if summary.Found != 3 {
		t.Errorf("Found = %d, want 3", summary.Found)
	}
	if summary.New != 2 {
		t.Errorf("New = %d, want 2", summary.New)
	}
	if summary.Updated != 1 {
		t.Errorf("Updated = %d, want 1", summary.Updated)
	}
	if summary.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", summary.Deleted)
	}
	if summary.Failed != 0 {
		t.Errorf("Failed = %d, failures: %v", summary.Failed, summary.Failures)
	}

	// New messages were stored with header and body projections.
	msgs, err := st.GetMessages(false)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	byID := make(map[string]*store.Message, len(msgs))
	for _, m := range msgs {
		byID[m.EmailID] = m
	}
	if _, ok := byID["4"]; ok {
		t.Error("tombstoned message 4 visible in default listing")
	}
	m1, ok := byID["1"]
	if !ok {
		t.Fatal("message 1 not mirrored")
	}
	if !m1.Subject.Valid || m1.Subject.String != "hello" {
		t.Errorf("message 1 subject = %+v", m1.Subject)
	}
	if !m1.BodyText.Valid || m1.BodyText.String != "hi bob" {
		t.Errorf("message 1 body = %+v", m1.BodyText)
	}
	m3, ok := byID["3"]
	if !ok {
		t.Fatal("message 3 not mirrored")
	}
	if m3.Subject.Valid {
		t.Errorf("message 3 subject should be null, got %q", m3.Subject.String)
	}

	// Message 2's stale SPAM label was dropped.
	labels, err := st.GetMessageLabels("2")
	if err != nil {
		t.Fatalf("GetMessageLabels: %v", err)
	}
	if d := cmp.Diff([]string{"INBOX"}, labels); d != "" {
		t.Errorf("message 2 labels (-want +got):\n%s", d)
	}

	// Message 4 is tombstoned, not removed.
	ids, err := st.ListMessageIDs()
	if err != nil {
		t.Fatalf("ListMessageIDs: %v", err)
	}
	if !ids["4"] {
		t.Error("tombstoned message 4 missing from full ID set")
	}
}

func TestUpdateIdempotent(t *testing.T) {
	mock := gmail.NewMockDirectory()
	mock.AddMessage("1", gmail.Headers{
		From: "alice@example.com", HasFrom: true,
		Subject: "hi", HasSubject: true,
	}, []string{"INBOX"}, "body")

	st := newTestStore(t)
	syncer := New(mock, st, nil)

	if _, err := syncer.Update(context.Background()); err != nil {
		t.Fatalf("first Update: %v", err)
	}
	summary, err := syncer.Update(context.Background())
	if err != nil {
		t.Fatalf("second Update: %v", err)
	}

	if summary.New != 0 || summary.Updated != 0 || summary.Deleted != 0 || summary.Failed != 0 {
		t.Errorf("second run not a no-op: %+v", summary)
	}
}

func TestUpdateQuickSkipsTombstoneAndRefresh(t *testing.T) {
	mock := gmail.NewMockDirectory()
	mock.AddMessage("1", gmail.Headers{
		From: "alice@example.com", HasFrom: true,
	}, []string{"INBOX"}, "")
	mock.AddMessage("2", gmail.Headers{
		From: "bob@example.com", HasFrom: true,
	}, []string{"INBOX"}, "")

	st := newTestStore(t)
	if err := st.InsertMessage(&store.Message{EmailID: "2"}, "thread_2",
		[]string{"INBOX", "SPAM"}, nil, nil); err != nil {
		t.Fatalf("seed message 2: %v", err)
	}
	if err := st.InsertMessage(&store.Message{EmailID: "gone"}, "thread_gone",
		[]string{"INBOX"}, nil, nil); err != nil {
		t.Fatalf("seed gone message: %v", err)
	}

	syncer := New(mock, st, &Options{Quick: true, Concurrency: 2})
	summary, err := syncer.Update(context.Background())
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if summary.New != 1 {
		t.Errorf("New = %d, want 1", summary.New)
	}
	if summary.Updated != 0 || summary.Deleted != 0 {
		t.Errorf("quick run touched existing rows: %+v", summary)
	}

	// Stale label and locally-only message untouched.
	labels, err := st.GetMessageLabels("2")
	if err != nil {
		t.Fatalf("GetMessageLabels: %v", err)
	}
	if d := cmp.Diff([]string{"INBOX", "SPAM"}, labels); d != "" {
		t.Errorf("message 2 labels changed in quick mode (-want +got):\n%s", d)
	}
	msgs, err := st.GetMessages(false)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	found := false
	for _, m := range msgs {
		if m.EmailID == "gone" {
			found = true
		}
	}
	if !found {
		t.Error("quick mode tombstoned a message")
	}
}

func TestUpdateItemFailureIsolation(t *testing.T) {
	mock := gmail.NewMockDirectory()
	mock.AddMessage("ok", gmail.Headers{
		From: "alice@example.com", HasFrom: true,
	}, []string{"INBOX"}, "")
	mock.AddMessage("bad", gmail.Headers{
		From: "bob@example.com", HasFrom: true,
	}, []string{"INBOX"}, "")
	fetchErr := errors.New("transient fetch failure")
	mock.GetMessageError["bad"] = fetchErr

	st := newTestStore(t)
	syncer := New(mock, st, nil)

	summary, err := syncer.Update(context.Background())
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if summary.New != 1 {
		t.Errorf("New = %d, want 1", summary.New)
	}
	if summary.Failed != 1 {
		t.Fatalf("Failed = %d, want 1", summary.Failed)
	}
	if summary.Failures[0].EmailID != "bad" {
		t.Errorf("failure recorded for %q, want bad", summary.Failures[0].EmailID)
	}
	if !errors.Is(summary.Failures[0].Err, fetchErr) {
		t.Errorf("failure error = %v, want wrapped %v", summary.Failures[0].Err, fetchErr)
	}

	ok, err := st.HasMessage("ok")
	if err != nil {
		t.Fatalf("HasMessage: %v", err)
	}
	if !ok {
		t.Error("healthy item aborted by sibling failure")
	}

	// The failed item stays new, so a clean retry converges.
	mock.GetMessageError = map[string]error{}
	summary, err = syncer.Update(context.Background())
	if err != nil {
		t.Fatalf("retry Update: %v", err)
	}
	if summary.New != 1 || summary.Failed != 0 {
		t.Errorf("retry did not converge: %+v", summary)
	}
}

func TestUpdateLabelScope(t *testing.T) {
	mock := gmail.NewMockDirectory()
	mock.AddMessage("in", gmail.Headers{
		From: "alice@example.com", HasFrom: true,
	}, []string{"INBOX"}, "")
	mock.AddMessage("out", gmail.Headers{
		From: "bob@example.com", HasFrom: true,
	}, []string{"SENT"}, "")

	st := newTestStore(t)
	syncer := New(mock, st, &Options{LabelScope: []string{"INBOX"}, Concurrency: 2})

	summary, err := syncer.Update(context.Background())
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if summary.New != 1 {
		t.Errorf("New = %d, want 1", summary.New)
	}

	has, err := st.HasMessage("out")
	if err != nil {
		t.Fatalf("HasMessage: %v", err)
	}
	if has {
		t.Error("out-of-scope message mirrored")
	}
}

func TestSearchDrainsPages(t *testing.T) {
	mock := gmail.NewMockDirectory()
	for _, id := range []string{"1", "2", "3"} {
		mock.AddMessage(id, gmail.Headers{}, []string{"INBOX"}, "")
	}
	mock.MessagePages = [][]string{{"1", "2"}, {"3"}}

	syncer := New(mock, newTestStore(t), nil)
	refs, err := syncer.Search(context.Background(), "from:alice", nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(refs) != 3 {
		t.Errorf("got %d refs, want 3", len(refs))
	}
	if mock.LastQuery != "from:alice" {
		t.Errorf("query = %q", mock.LastQuery)
	}
	if mock.ListMessagesCalls != 2 {
		t.Errorf("ListMessages called %d times, want 2", mock.ListMessagesCalls)
	}
}

func TestSearchLabelScope(t *testing.T) {
	mock := gmail.NewMockDirectory()
	mock.AddMessage("1", gmail.Headers{}, []string{"INBOX", "Label_7"}, "")
	mock.AddMessage("2", gmail.Headers{}, []string{"INBOX"}, "")
	mock.AddMessage("3", gmail.Headers{}, []string{"Label_7"}, "")

	// A search never touches the local mirror, so no store is needed.
	syncer := New(mock, nil, nil)
	refs, err := syncer.Search(context.Background(), "", []string{"Label_7"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	got := map[string]bool{}
	for _, ref := range refs {
		got[ref.ID] = true
	}
	want := map[string]bool{"1": true, "3": true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("label-scoped results mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Label_7"}, mock.LastLabelFilter); diff != "" {
		t.Errorf("label filter mismatch (-want +got):\n%s", diff)
	}
}
