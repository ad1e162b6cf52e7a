package jobs

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExcludedRoundTripThroughFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exclude.json")
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	list := []*Job{
		{Board: "linkedin", ID: "101", URL: "https://www.linkedin.com/jobs/view/101", Company: "Acme"},
		{Board: "indeed", ID: "abc", Company: "Globex"},
	}
	if err := ToExcluded(list, at).ToFile(path); err != nil {
		t.Fatalf("write exclude file: %v", err)
	}

	// A shorter rewrite must not leave bytes of the old content behind.
	if err := ToExcluded(list[1:], at).ToFile(path); err != nil {
		t.Fatalf("rewrite exclude file: %v", err)
	}

	excluded, err := LoadExcluded(path)
	if err != nil {
		t.Fatalf("load exclude file: %v", err)
	}
	if len(excluded.Items) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(excluded.Items))
	}
	if got := excluded.Items[0]; got.ID != "abc" || got.Company != "Globex" || !got.ExcludedAt.Equal(at) {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestLoadExcludedEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	excluded, err := LoadExcluded(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(excluded.Items) != 0 {
		t.Fatalf("expected no entries, got %d", len(excluded.Items))
	}
}

func TestContainsMatchesBoard(t *testing.T) {
	excluded := &Excluded{Items: []*ExcludedJob{
		{Board: "linkedin", ID: "1"},
		{ID: "2"},
	}}

	cases := []struct {
		job  Job
		want bool
	}{
		{Job{Board: "linkedin", ID: "1"}, true},
		{Job{Board: "indeed", ID: "1"}, false},
		{Job{Board: "indeed", ID: "2"}, true},
		{Job{Board: "linkedin", ID: "3"}, false},
	}
	for _, tc := range cases {
		if got := excluded.Contains(&tc.job); got != tc.want {
			t.Fatalf("Contains(%s) = %v, want %v", tc.job.Key(), got, tc.want)
		}
	}
}
