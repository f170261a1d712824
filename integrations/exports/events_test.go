package exports

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"dualbond/services/bondd/journal"
)

func sampleEntries() []journal.Entry {
	return []journal.Entry{
		{
			ID:         uuid.MustParse("00000000-0000-0000-0000-000000000001"),
			Bond:       "0x00000000000000000000000000000000000000b0",
			Type:       "bond.deposited",
			Attributes: map[string]string{"amount": "100", "depositor": "0xa1"},
			CreatedAt:  time.Unix(1700, 0).UTC(),
		},
		{
			ID:         uuid.MustParse("00000000-0000-0000-0000-000000000002"),
			Bond:       "0x00000000000000000000000000000000000000b0",
			Type:       "bond.redeemed",
			Attributes: map[string]string{"branch": "stable"},
			CreatedAt:  time.Unix(1800, 0).UTC(),
		},
	}
}

func TestEventsCSV(t *testing.T) {
	data, checksum, err := Events(FormatCSV, sampleEntries())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(checksum) != 64 {
		t.Fatalf("expected hex sha256 checksum, got %q", checksum)
	}
	output := string(data)
	if !strings.HasPrefix(output, "id,bond,type,created_at,attributes\n") {
		t.Fatalf("missing header: %s", output)
	}
	if !strings.Contains(output, `"{""amount"":""100"",""depositor"":""0xa1""}"`) {
		t.Fatalf("missing attributes: %s", output)
	}
	if strings.Count(output, "\n") != 3 {
		t.Fatalf("expected 3 lines, got %q", output)
	}
}

func TestEventsJSONL(t *testing.T) {
	data, _, err := Events(FormatJSONL, sampleEntries())
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %d", len(lines))
	}
	if !strings.Contains(lines[1], `"branch":"stable"`) {
		t.Fatalf("unexpected line %s", lines[1])
	}
}

func TestEventsParquet(t *testing.T) {
	data, checksum, err := Events(FormatParquet, sampleEntries())
	if err != nil {
		t.Fatalf("parquet: %v", err)
	}
	if checksum == "" || !bytes.HasPrefix(data, []byte("PAR1")) || !bytes.HasSuffix(data, []byte("PAR1")) {
		t.Fatalf("expected a parquet file, got %d bytes", len(data))
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(" CSV "); err != nil || f != FormatCSV {
		t.Fatalf("expected csv, got %q %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatalf("expected error for xml")
	}
}
