package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openTempLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crawl_status.csv")
	led, err := Open("G1", path)
	if err != nil {
		t.Fatalf("Failed to open ledger: %v", err)
	}
	return led, path
}

func TestLedgerRoundTrip(t *testing.T) {
	led, path := openTempLedger(t)

	err := led.Append(
		Record{Gush: "6638", Chelka: "224", CaseID: "0104"},
		Record{Gush: "6638", Chelka: "224", CaseID: "0105"},
		Record{Gush: "6638", Chelka: "225", CaseID: "0104"},
	)
	if err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if err := led.SetDeclared("6638", "224", "0104", 7); err != nil {
		t.Fatalf("Failed to set declared: %v", err)
	}
	if err := led.SetRecorded("6638", "224", "0104", 3); err != nil {
		t.Fatalf("Failed to set recorded: %v", err)
	}

	reopened, err := Open("G1", path)
	if err != nil {
		t.Fatalf("Failed to reopen ledger: %v", err)
	}
	if reopened.Len() != 3 {
		t.Fatalf("Expected 3 records after reopen, got %d", reopened.Len())
	}

	r, ok := reopened.Lookup("6638", "224", "0104")
	if !ok {
		t.Fatal("Expected record for 6638/224/0104")
	}
	if r.DocsInWeb != 7 {
		t.Errorf("Expected declared 7, got %d", r.DocsInWeb)
	}
	if r.DocsInCSV != 3 {
		t.Errorf("Expected recorded 3, got %d", r.DocsInCSV)
	}
	if r.Group != "G1" {
		t.Errorf("Expected group G1, got %s", r.Group)
	}
}

func TestLedgerAppendDeduplicates(t *testing.T) {
	led, _ := openTempLedger(t)

	rec := Record{Gush: "1", Chelka: "2", CaseID: "3"}
	if err := led.Append(rec); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if err := led.Append(rec); err != nil {
		t.Fatalf("Failed to re-append: %v", err)
	}
	if led.Len() != 1 {
		t.Errorf("Expected duplicate append to be ignored, got %d records", led.Len())
	}
}

func TestLedgerFailsFastOnMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crawl_status.csv")
	content := "group,gush,chelka,status\nG1,1,2,completed\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write ledger file: %v", err)
	}

	_, err := Open("G1", path)
	if err == nil {
		t.Fatal("Expected error for missing columns, got nil")
	}
	if !strings.Contains(err.Error(), "case_id") {
		t.Errorf("Expected error to name the missing column, got: %v", err)
	}
}

func TestLedgerFailsFastOnMalformedCounter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crawl_status.csv")
	content := "group,gush,chelka,case_id,status,no_results,docs_in_csv,docs_in_directory,docs_in_web,docs_in_csv_not_in_dir,docs_in_dir_not_in_csv\n" +
		"G1,1,2,0104,completed,,abc,3,3,0,0\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write ledger file: %v", err)
	}

	_, err := Open("G1", path)
	if err == nil {
		t.Fatal("Expected error for corrupt counter, got nil")
	}
	if !strings.Contains(err.Error(), "docs_in_csv") || !strings.Contains(err.Error(), "abc") {
		t.Errorf("Expected error to name the corrupt column and value, got: %v", err)
	}
}

func TestLedgerClaim(t *testing.T) {
	led, _ := openTempLedger(t)

	if !led.Claim("0104") {
		t.Fatal("Expected first claim to succeed")
	}
	if led.Claim("0104") {
		t.Error("Expected second claim of an active case to fail")
	}

	led.Release("0104")
	if !led.Claim("0104") {
		t.Error("Expected claim after release to succeed")
	}
}

func TestLedgerPendingCases(t *testing.T) {
	led, _ := openTempLedger(t)

	t.Run("UnknownParcel", func(t *testing.T) {
		_, known := led.PendingCases("9", "9")
		if known {
			t.Error("Expected unknown parcel to report known=false")
		}
	})

	t.Run("PendingAndCompleted", func(t *testing.T) {
		if err := led.Append(
			Record{Gush: "1", Chelka: "2", CaseID: "a"},
			Record{Gush: "1", Chelka: "2", CaseID: "b"},
		); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
		if err := led.FinalizeCase("a", Counts{Declared: 1, Recorded: 1, InDirectory: 1}); err != nil {
			t.Fatalf("Failed to finalize: %v", err)
		}

		pending, known := led.PendingCases("1", "2")
		if !known {
			t.Fatal("Expected parcel to be known")
		}
		if len(pending) != 1 || pending[0] != "b" {
			t.Errorf("Expected pending [b], got %v", pending)
		}
	})

	t.Run("NoResultsParcel", func(t *testing.T) {
		if err := led.MarkNoResults("3", "4"); err != nil {
			t.Fatalf("Failed to mark no results: %v", err)
		}
		pending, known := led.PendingCases("3", "4")
		if !known {
			t.Fatal("Expected no-results parcel to be known")
		}
		if len(pending) != 0 {
			t.Errorf("Expected no pending cases, got %v", pending)
		}
	})
}

func TestFinalizeCase(t *testing.T) {
	t.Run("ExactMatchCompletes", func(t *testing.T) {
		led, _ := openTempLedger(t)
		if err := led.Append(Record{Gush: "1", Chelka: "2", CaseID: "a"}); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
		if err := led.FinalizeCase("a", Counts{Declared: 3, Recorded: 3, InDirectory: 3}); err != nil {
			t.Fatalf("Failed to finalize: %v", err)
		}
		r, _ := led.Lookup("1", "2", "a")
		if r.Status != StatusCompleted {
			t.Errorf("Expected completed, got %q", r.Status)
		}
	})

	t.Run("DiscrepancyMismatches", func(t *testing.T) {
		led, _ := openTempLedger(t)
		if err := led.Append(Record{Gush: "1", Chelka: "2", CaseID: "a"}); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
		if err := led.FinalizeCase("a", Counts{Declared: 3, Recorded: 3, InDirectory: 2, Missing: 1}); err != nil {
			t.Fatalf("Failed to finalize: %v", err)
		}
		r, _ := led.Lookup("1", "2", "a")
		if r.Status != StatusMismatch {
			t.Errorf("Expected mismatch, got %q", r.Status)
		}
		if r.CSVNotInDir != 1 {
			t.Errorf("Expected missing count 1, got %d", r.CSVNotInDir)
		}
	})

	t.Run("ZeroRecordedNeverCompletes", func(t *testing.T) {
		led, _ := openTempLedger(t)
		if err := led.Append(Record{Gush: "1", Chelka: "2", CaseID: "a"}); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
		if err := led.FinalizeCase("a", Counts{}); err != nil {
			t.Fatalf("Failed to finalize: %v", err)
		}
		r, _ := led.Lookup("1", "2", "a")
		if r.Status != StatusMismatch {
			t.Errorf("Expected zero-document case to mismatch, got %q", r.Status)
		}
	})

	t.Run("CompletedIsNeverDemoted", func(t *testing.T) {
		led, _ := openTempLedger(t)
		if err := led.Append(Record{Gush: "1", Chelka: "2", CaseID: "a"}); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
		if err := led.FinalizeCase("a", Counts{Declared: 1, Recorded: 1, InDirectory: 1}); err != nil {
			t.Fatalf("Failed to finalize: %v", err)
		}
		if err := led.FinalizeCase("a", Counts{Declared: 1, Recorded: 1, InDirectory: 0, Missing: 1}); err != nil {
			t.Fatalf("Failed to re-finalize: %v", err)
		}
		r, _ := led.Lookup("1", "2", "a")
		if r.Status != StatusCompleted {
			t.Errorf("Expected completed status to stick, got %q", r.Status)
		}
	})

	t.Run("UpdatesEveryRowOfTheCase", func(t *testing.T) {
		led, _ := openTempLedger(t)
		if err := led.Append(
			Record{Gush: "1", Chelka: "2", CaseID: "shared"},
			Record{Gush: "1", Chelka: "3", CaseID: "shared"},
		); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
		if err := led.FinalizeCase("shared", Counts{Declared: 2, Recorded: 2, InDirectory: 2}); err != nil {
			t.Fatalf("Failed to finalize: %v", err)
		}
		for _, chelka := range []string{"2", "3"} {
			r, ok := led.Lookup("1", chelka, "shared")
			if !ok {
				t.Fatalf("Expected row for chelka %s", chelka)
			}
			if r.Status != StatusCompleted {
				t.Errorf("Expected chelka %s row completed, got %q", chelka, r.Status)
			}
		}
	})

	t.Run("BackfillsDeclaredCount", func(t *testing.T) {
		led, _ := openTempLedger(t)
		if err := led.Append(Record{Gush: "1", Chelka: "2", CaseID: "a"}); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
		if err := led.FinalizeCase("a", Counts{Declared: 4, Recorded: 2, InDirectory: 2}); err != nil {
			t.Fatalf("Failed to finalize: %v", err)
		}
		r, _ := led.Lookup("1", "2", "a")
		if r.DocsInWeb != 4 {
			t.Errorf("Expected declared count backfilled to 4, got %d", r.DocsInWeb)
		}
	})

	t.Run("UnknownCaseFails", func(t *testing.T) {
		led, _ := openTempLedger(t)
		if err := led.FinalizeCase("ghost", Counts{}); err == nil {
			t.Error("Expected error finalizing an unknown case")
		}
	})
}

func TestCaseCompleted(t *testing.T) {
	led, _ := openTempLedger(t)

	if err := led.Append(Record{Gush: "1", Chelka: "2", CaseID: "a"}); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if led.CaseCompleted("1", "2", "a") {
		t.Error("Expected fresh case to not be completed")
	}
	if err := led.FinalizeCase("a", Counts{Declared: 1, Recorded: 1, InDirectory: 1}); err != nil {
		t.Fatalf("Failed to finalize: %v", err)
	}
	if !led.CaseCompleted("1", "2", "a") {
		t.Error("Expected finalized case to be completed")
	}
}
