package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gametext/sheetloc/segment"
)

func TestKeysLog_WriteAndParse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "keys.csv")

	kl, err := OpenKeysLog(path, "pt-BR")
	if err != nil {
		t.Fatalf("OpenKeysLog: %v", err)
	}
	if err := kl.Record("UI", "BTN_OK", 2, segment.StatusOK); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := kl.Record("UI", "GREET", 3, segment.StatusMissingTokens); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := kl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := ParseKeysLog(path)
	if err != nil {
		t.Fatalf("ParseKeysLog: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	want := Entry{Sheet: "UI", Key: "BTN_OK", Row: 2, TargetLang: "pt-BR", Status: segment.StatusOK}
	if entries[0] != want {
		t.Errorf("entries[0] = %+v, want %+v", entries[0], want)
	}
}

func TestKeysLog_AppendDoesNotDuplicateHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.csv")

	kl, _ := OpenKeysLog(path, "de")
	kl.Record("UI", "A", 2, segment.StatusOK)
	kl.Close()

	// Reopen and append.
	kl, err := OpenKeysLog(path, "de")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	kl.Record("UI", "B", 3, segment.StatusOK)
	kl.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "sheet,key,row"); n != 1 {
		t.Errorf("header appears %d times, want 1", n)
	}

	entries, _ := ParseKeysLog(path)
	if len(entries) != 2 {
		t.Errorf("got %d entries, want 2", len(entries))
	}
}

func TestParseKeysLog_MissingFile(t *testing.T) {
	if _, err := ParseKeysLog(filepath.Join(t.TempDir(), "nope.csv")); err == nil {
		t.Fatal("want error")
	}
}

func TestSummarize_LastStatusWins(t *testing.T) {
	entries := []Entry{
		{Sheet: "UI", Key: "A", Row: 2, Status: segment.StatusMissingTokens},
		{Sheet: "UI", Key: "B", Row: 3, Status: segment.StatusOK},
		// Gap pass recovers A.
		{Sheet: "UI", Key: "A", Row: 2, Status: segment.StatusOK},
	}

	sheets := Summarize(entries)
	if len(sheets) != 1 {
		t.Fatalf("got %d sheets", len(sheets))
	}
	s := sheets[0]
	if s.Total() != 2 {
		t.Errorf("Total = %d, want 2", s.Total())
	}
	if s.Counts[segment.StatusOK] != 2 || s.Counts[segment.StatusMissingTokens] != 0 {
		t.Errorf("counts = %v", s.Counts)
	}
	if len(s.Failed) != 0 {
		t.Errorf("Failed = %v, want none after recovery", s.Failed)
	}
}

func TestSummarize_FailedSortedByRow(t *testing.T) {
	entries := []Entry{
		{Sheet: "UI", Key: "Z", Row: 9, Status: segment.StatusError},
		{Sheet: "UI", Key: "A", Row: 2, Status: segment.StatusNoTranslation},
		{Sheet: "MATCH", Key: "M", Row: 4, Status: segment.StatusOK},
	}

	sheets := Summarize(entries)
	if len(sheets) != 2 {
		t.Fatalf("got %d sheets", len(sheets))
	}
	ui := sheets[0]
	if ui.Sheet != "UI" {
		t.Fatalf("sheet order: %v", sheets)
	}
	if len(ui.Failed) != 2 || ui.Failed[0].Key != "A" || ui.Failed[1].Key != "Z" {
		t.Errorf("Failed = %v", ui.Failed)
	}
	if ui.Accepted() != 0 || sheets[1].Accepted() != 1 {
		t.Errorf("accepted counts wrong")
	}
}

func TestWriteHTML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.html")
	entries := []Entry{
		{Sheet: "UI", Key: "BTN_OK", Row: 2, TargetLang: "pt-BR", Status: segment.StatusOK},
		{Sheet: "UI", Key: "GREET", Row: 3, TargetLang: "pt-BR", Status: segment.StatusMissingTokens},
	}

	if err := WriteHTML(path, "pt-BR", entries); err != nil {
		t.Fatalf("WriteHTML: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	html := string(data)
	// Failed keys are listed by name; accepted keys appear only in counts.
	for _, want := range []string{"pt-BR", "GREET", "MISSING_TOKENS", "<h2>UI</h2>"} {
		if !strings.Contains(html, want) {
			t.Errorf("report missing %q", want)
		}
	}
}
