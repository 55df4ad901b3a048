package sink

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"inbound-forecaster/pkg/forecast"
)

// CSVHeader is the output column order.
var CSVHeader = []string{"date", "reserve_count", "reserve_sum", "fixed_ratio"}

const utf8BOM = "\ufeff"

// CSV writes rows to a UTF-8 file with a byte order mark so spreadsheet
// tools detect the encoding.
type CSV struct {
	Path string
}

func (c *CSV) Name() string { return "csv" }

func (c *CSV) Write(_ context.Context, res *forecast.Result) error {
	return WriteCSV(c.Path, res.Rows)
}

// WriteCSV creates the parent directory and atomically replaces path. Rows
// go to a temporary file in the same directory that is renamed over path
// only after a complete write, so a failed run never leaves a truncated
// forecast behind.
func WriteCSV(path string, rows []forecast.Row) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if err := writeRows(f, rows); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Chmod(0o644); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func writeRows(out io.Writer, rows []forecast.Row) error {
	bw := bufio.NewWriter(out)
	if _, err := bw.WriteString(utf8BOM); err != nil {
		return err
	}
	w := csv.NewWriter(bw)
	if err := w.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			r.Date.Format("2006-01-02"),
			strconv.FormatFloat(r.ReserveCount, 'f', -1, 64),
			strconv.FormatFloat(r.ReserveSum, 'f', -1, 64),
			strconv.FormatFloat(r.FixedRatio, 'f', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return bw.Flush()
}
