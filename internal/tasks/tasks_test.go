package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mailsift/internal/filter"
	"mailsift/internal/gmail"
)

func TestParseTaskFile(t *testing.T) {
	tasks, err := Parse([]byte(`[
		{"remove_labels": ["stale", "todo"]},
		{"apply_sender_rules": {
			"label": "triage",
			"rules": [{"label": "billing", "from": "invoices@"}]
		}}
	]`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}

	if tasks[0].Kind() != KindRemoveLabels {
		t.Errorf("task 0 kind = %q", tasks[0].Kind())
	}
	if d := cmp.Diff([]string{"stale", "todo"}, tasks[0].RemoveLabels.Labels); d != "" {
		t.Errorf("task 0 labels (-want +got):\n%s", d)
	}

	if tasks[1].Kind() != KindApplySenderRules {
		t.Errorf("task 1 kind = %q", tasks[1].Kind())
	}
	if tasks[1].ApplySenderRules.Label != "triage" {
		t.Errorf("task 1 scope = %q", tasks[1].ApplySenderRules.Label)
	}
}

func TestParseUnknownKindFatal(t *testing.T) {
	_, err := Parse([]byte(`[
		{"remove_labels": ["stale"]},
		{"archive_old_mail": {}}
	]`))
	if !errors.Is(err, ErrUnknownTask) {
		t.Errorf("Parse error = %v, want ErrUnknownTask", err)
	}
}

func TestParseRejectsMalformedTasks(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"two kinds in one entry", `[{"remove_labels": ["a"], "apply_sender_rules": {"label": "x", "rules": [{"label": "y", "from": "z"}]}}]`},
		{"empty label list", `[{"remove_labels": []}]`},
		{"rules without scope", `[{"apply_sender_rules": {"rules": [{"label": "y", "from": "z"}]}}]`},
		{"scope without rules", `[{"apply_sender_rules": {"label": "x", "rules": []}}]`},
		{"invalid nested rule", `[{"apply_sender_rules": {"label": "x", "rules": [{"label": "y"}]}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func testMailbox() *gmail.MockDirectory {
	mock := gmail.NewMockDirectory()
	mock.Labels = []*gmail.Label{
		{ID: "INBOX", Name: "INBOX", Type: "system"},
		{ID: "Label_triage", Name: "triage", Type: "user"},
		{ID: "Label_billing", Name: "billing", Type: "user"},
		{ID: "Label_stale", Name: "stale", Type: "user"},
	}
	return mock
}

func TestRunRemoveLabels(t *testing.T) {
	mock := testMailbox()
	mock.AddMessage("1", gmail.Headers{}, []string{"INBOX", "Label_stale"}, "")
	mock.AddMessage("2", gmail.Headers{}, []string{"Label_stale"}, "")
	mock.AddMessage("3", gmail.Headers{}, []string{"INBOX"}, "")

	runner := NewRunner(mock, 2)
	err := runner.Run(context.Background(), []Task{
		{RemoveLabels: &RemoveLabelsTask{Labels: []string{"stale"}}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, id := range []string{"1", "2"} {
		detail, err := mock.GetMessage(context.Background(), id, gmail.FidelityMetadata)
		if err != nil {
			t.Fatalf("GetMessage(%s): %v", id, err)
		}
		for _, l := range detail.LabelIDs {
			if l == "Label_stale" {
				t.Errorf("message %s still carries the stripped label", id)
			}
		}
	}
}

func TestRunApplySenderRules(t *testing.T) {
	mock := testMailbox()
	mock.AddMessage("invoice", gmail.Headers{
		From: "invoices@vendor.com", HasFrom: true,
	}, []string{"Label_triage"}, "")
	mock.AddMessage("unmatched", gmail.Headers{
		From: "friend@example.com", HasFrom: true,
	}, []string{"Label_triage"}, "")
	mock.AddMessage("outside", gmail.Headers{
		From: "invoices@vendor.com", HasFrom: true,
	}, []string{"INBOX"}, "")

	runner := NewRunner(mock, 2)
	err := runner.Run(context.Background(), []Task{
		{ApplySenderRules: &ApplySenderRulesTask{
			Label: "triage",
			Rules: filter.Rules{{Label: "billing", From: "invoices@"}},
		}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	labelSet := func(id string) map[string]bool {
		t.Helper()
		detail, err := mock.GetMessage(context.Background(), id, gmail.FidelityMetadata)
		if err != nil {
			t.Fatalf("GetMessage(%s): %v", id, err)
		}
		set := make(map[string]bool)
		for _, l := range detail.LabelIDs {
			set[l] = true
		}
		return set
	}

	inv := labelSet("invoice")
	if !inv["Label_billing"] || inv["Label_triage"] {
		t.Errorf("matched message labels = %v, want billing without triage", inv)
	}

	un := labelSet("unmatched")
	if !un["Label_triage"] || un["Label_billing"] {
		t.Errorf("unmatched message labels = %v, want triage only", un)
	}

	out := labelSet("outside")
	if out["Label_billing"] {
		t.Error("message outside the scope label was re-filed")
	}
}

func TestRunUnknownLabelFailsBeforeMutation(t *testing.T) {
	mock := testMailbox()
	mock.AddMessage("1", gmail.Headers{}, []string{"Label_stale"}, "")

	runner := NewRunner(mock, 2)
	err := runner.Run(context.Background(), []Task{
		{RemoveLabels: &RemoveLabelsTask{Labels: []string{"stale"}}},
		{RemoveLabels: &RemoveLabelsTask{Labels: []string{"no-such-label"}}},
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(mock.ModifyCalls) != 0 {
		t.Errorf("mutations ran before validation failed: %d calls", len(mock.ModifyCalls))
	}
}

func TestRunTasksInOrder(t *testing.T) {
	mock := testMailbox()
	// Starts in triage; the rule files it to billing, then the second
	// task strips billing mailbox-wide.
	mock.AddMessage("1", gmail.Headers{
		From: "invoices@vendor.com", HasFrom: true,
	}, []string{"Label_triage"}, "")

	runner := NewRunner(mock, 2)
	err := runner.Run(context.Background(), []Task{
		{ApplySenderRules: &ApplySenderRulesTask{
			Label: "triage",
			Rules: filter.Rules{{Label: "billing", From: "invoices@"}},
		}},
		{RemoveLabels: &RemoveLabelsTask{Labels: []string{"billing"}}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	detail, err := mock.GetMessage(context.Background(), "1", gmail.FidelityMetadata)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if len(detail.LabelIDs) != 0 {
		t.Errorf("labels after both tasks = %v, want none", detail.LabelIDs)
	}
}
