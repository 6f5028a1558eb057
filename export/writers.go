// Package export writes the merged crawl dataset to delimited or JSON
// outputs. It consumes the core's dataset; no crawl logic lives here.
package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aluiziolira/go-kiscon-crawler/models"
)

// utf8BOM makes spreadsheet applications detect the encoding and render the
// Korean columns correctly.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// csvDroppedColumns are elided from CSV output: the raw detail text is bulky
// and the derived location column carries what operators need.
var csvDroppedColumns = map[string]struct{}{
	"detail_text": {},
}

// OutputWriter defines the interface for dataset output.
type OutputWriter interface {
	Write(ds *models.Dataset) error
	Close() error
	Validate() error
}

// CSVWriter writes the dataset to CSV.
type CSVWriter struct {
	path        string
	file        *os.File
	writer      *csv.Writer
	mu          sync.Mutex
	wroteHeader bool
}

// NewCSVWriter initialises a CSV writer; the header is written with the
// first dataset since columns are discovered at crawl time.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}
	if _, err := f.Write(utf8BOM); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv bom: %w", err)
	}

	return &CSVWriter{
		path:   filename,
		file:   f,
		writer: csv.NewWriter(f),
	}, nil
}

// Write appends the dataset's records to the CSV output, dropping the
// columns CSV elides.
func (cw *CSVWriter) Write(ds *models.Dataset) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	keep := make([]int, 0, len(ds.Columns))
	header := make([]string, 0, len(ds.Columns))
	for i, col := range ds.Columns {
		if _, dropped := csvDroppedColumns[col]; dropped {
			continue
		}
		keep = append(keep, i)
		header = append(header, col)
	}

	if !cw.wroteHeader {
		if err := cw.writer.Write(header); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
		cw.wroteHeader = true
	}

	record := make([]string, len(keep))
	for _, rec := range ds.Records {
		for i, idx := range keep {
			record[i] = rec[idx]
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures the file has content besides the BOM. It stats by path so
// it works before or after Close.
func (cw *CSVWriter) Validate() error {
	info, err := os.Stat(cw.path)
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= int64(len(utf8BOM)) {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// JSONWriter writes newline-delimited JSON records, one object per row with
// the full column set (including detail_text).
type JSONWriter struct {
	path    string
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		path:    filename,
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends the dataset's records in JSONL format.
func (jw *JSONWriter) Write(ds *models.Dataset) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, rec := range ds.Records {
		obj := make(map[string]string, len(ds.Columns))
		for i, col := range ds.Columns {
			if i < len(rec) {
				obj[col] = rec[i]
			}
		}
		if err := jw.encoder.Encode(obj); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	info, err := os.Stat(jw.path)
	if err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("json file is empty")
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
