package main

import (
	"bytes"
	"strings"
	"testing"

	"pressflow/internal/domain"
)

func TestWriteRecordRendersFieldTable(t *testing.T) {
	var buf bytes.Buffer
	mentor := "sam"
	err := writeRecord(&buf, domain.Ratification{
		ID: "r1", TaskID: "t1", JuniorUserID: "jr", GuildID: "copy", MentorUserID: &mentor,
		Status: domain.RatificationPending, CreatedAt: "2024-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"FIELD", "VALUE", "mentor_user_id", "sam", "status", "pending"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "{") {
		t.Fatalf("object rendered as JSON:\n%s", out)
	}
}

func TestWriteRecordFallsBackForLists(t *testing.T) {
	var buf bytes.Buffer
	if err := writeRecord(&buf, []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"a"`) {
		t.Fatalf("list should print as JSON: %s", buf.String())
	}
}
