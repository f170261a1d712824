package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"dualbond/services/bondd/journal"
)

// Format selects the export encoding.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
)

// ParseFormat accepts csv, jsonl or parquet.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatCSV, FormatJSONL, FormatParquet:
		return f, nil
	default:
		return "", fmt.Errorf("exports: unknown format %q", raw)
	}
}

// Events encodes journal entries in format and returns the payload together
// with its SHA-256 checksum.
func Events(format Format, entries []journal.Entry) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	var err error
	switch format {
	case FormatCSV:
		err = eventsCSV(buffer, entries)
	case FormatJSONL:
		err = eventsJSONL(buffer, entries)
	case FormatParquet:
		err = eventsParquet(buffer, entries)
	default:
		err = fmt.Errorf("exports: unknown format %q", format)
	}
	if err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}

func attributesJSON(entry journal.Entry) (string, error) {
	if len(entry.Attributes) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(entry.Attributes)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func eventsCSV(w io.Writer, entries []journal.Entry) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"id", "bond", "type", "created_at", "attributes"}); err != nil {
		return err
	}
	for _, entry := range entries {
		attrs, err := attributesJSON(entry)
		if err != nil {
			return err
		}
		record := []string{
			entry.ID.String(),
			entry.Bond,
			entry.Type,
			entry.CreatedAt.UTC().Format(time.RFC3339Nano),
			attrs,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func eventsJSONL(w io.Writer, entries []journal.Entry) error {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	for _, entry := range entries {
		payload := map[string]interface{}{
			"id":         entry.ID.String(),
			"bond":       entry.Bond,
			"type":       entry.Type,
			"created_at": entry.CreatedAt.UTC().Format(time.RFC3339Nano),
			"attributes": entry.Attributes,
		}
		if err := encoder.Encode(payload); err != nil {
			return err
		}
	}
	return nil
}

type parquetRow struct {
	ID         string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Bond       string `parquet:"name=bond, type=BYTE_ARRAY, convertedtype=UTF8"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt  int64  `parquet:"name=created_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func eventsParquet(w io.Writer, entries []journal.Entry) error {
	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(w), new(parquetRow), 1)
	if err != nil {
		return fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, entry := range entries {
		attrs, err := attributesJSON(entry)
		if err != nil {
			pw.WriteStop()
			return err
		}
		row := &parquetRow{
			ID:         entry.ID.String(),
			Bond:       entry.Bond,
			Type:       entry.Type,
			CreatedAt:  entry.CreatedAt.UTC().UnixMilli(),
			Attributes: attrs,
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("exports: parquet flush: %w", err)
	}
	return nil
}
