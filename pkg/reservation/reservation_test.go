package reservation

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/encoding/japanese"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2024/05/01", "2024-05-01", true},
		{"2024/5/1(水)", "2024-05-01", true},
		{"2024/05/01（水）", "2024-05-01", true},
		{"２０２４／０５／０１", "2024-05-01", true},
		{"2024-05-01 10:30:00", "2024-05-01", true},
		{"2024-05-01T10:30:00", "2024-05-01", true},
		{"2024.5.1", "2024-05-01", true},
		{"2024年5月1日", "2024-05-01", true},
		{"20240501", "2024-05-01", true},
		{"20240501.0", "2024-05-01", true},
		{"", "", false},
		{"not a date", "", false},
		{"2024/13/40", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDate(tt.in)
			if ok != tt.ok {
				t.Fatalf("ParseDate(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if ok && !got.Equal(date(tt.want)) {
				t.Errorf("ParseDate(%q) = %s, want %s", tt.in, got.Format("2006-01-02"), tt.want)
			}
		})
	}
}

func TestResolveColumns(t *testing.T) {
	tests := []struct {
		name    string
		header  []string
		want    ColumnMap
		wantErr bool
	}{
		{
			name:   "exact japanese headers",
			header: []string{"予約日", "台数", "固定客"},
			want:   ColumnMap{Date: 0, Count: 1, Fixed: 2},
		},
		{
			name:   "aliases with full-width and spacing",
			header: []string{"No", "ＲＥＳＥＲＶＥ＿ＤＡＴＥ", " 予約台数 ", "is fixed"},
			want:   ColumnMap{Date: 1, Count: 2, Fixed: 3},
		},
		{
			name:   "prefix match",
			header: []string{"予約日(曜日)", "台数合計", "備考"},
			want:   ColumnMap{Date: 0, Count: 1, Fixed: -1},
		},
		{
			name:    "missing date column",
			header:  []string{"台数", "固定客"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveColumns(tt.header, DefaultDateColumn, DefaultCountColumn, DefaultFixedColumn)
			if tt.wantErr {
				if !errors.Is(err, ErrDateColumnNotFound) {
					t.Fatalf("expected ErrDateColumnNotFound, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveColumns failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveColumns = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestReadCSV_Encodings(t *testing.T) {
	dir := t.TempDir()
	content := "予約日,台数,固定客\n2024/05/01,2,1\n2024/05/01,3,0\n2024/05/02,1,○\n"

	sjis, err := japanese.ShiftJIS.NewEncoder().String(content)
	if err != nil {
		t.Fatalf("encode shift_jis: %v", err)
	}

	files := map[string]struct {
		data string
		enc  string
	}{
		"utf8.csv": {content, "auto"},
		"bom.csv":  {"\xEF\xBB\xBF" + content, "auto"},
		"sjis.csv": {sjis, "cp932"},
	}
	for name, f := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, []byte(f.data), 0o644); err != nil {
				t.Fatal(err)
			}
			table, err := ReadCSV(path, nil)
			if err != nil {
				t.Fatalf("ReadCSV failed: %v", err)
			}
			if table.Encoding != f.enc {
				t.Errorf("encoding = %s, want %s", table.Encoding, f.enc)
			}
			if table.Header[0] != "予約日" {
				t.Errorf("header[0] = %q", table.Header[0])
			}
			if table.Len() != 3 {
				t.Errorf("rows = %d, want 3", table.Len())
			}
		})
	}
}

func TestReadCSV_Missing(t *testing.T) {
	_, err := ReadCSV(filepath.Join(t.TempDir(), "nope.csv"), nil)
	if !errors.Is(err, ErrNoInput) {
		t.Fatalf("expected ErrNoInput, got %v", err)
	}
}

func TestAggregate(t *testing.T) {
	table := &Table{
		Header: []string{"予約日", "台数", "固定客"},
		Rows: [][]string{
			{"2024/05/01(水)", "2", "1"},
			{"2024/05/01(水)", "3", "0"},
			{"2024/05/02", "1,000", "○"},
			{"garbage", "5", "1"},
			{"20240503", "", ""},
		},
	}

	records, report, err := Aggregate(table, DefaultOptions())
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if report.DroppedDates != 1 || report.TotalRows != 5 || report.Days != 3 {
		t.Errorf("unexpected report %+v", report)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 days, got %d", len(records))
	}

	first := records[0]
	if first.ReserveCount != 2 || first.ReserveSum != 5 || first.FixedRatio != 0.5 {
		t.Errorf("2024-05-01 = %+v", first)
	}
	if records[1].ReserveSum != 1000 || records[1].FixedRatio != 1 {
		t.Errorf("2024-05-02 = %+v", records[1])
	}
	if records[2].ReserveCount != 1 || records[2].ReserveSum != 0 {
		t.Errorf("2024-05-03 = %+v", records[2])
	}
}

func TestAggregate_NoCountColumnUsesRowCount(t *testing.T) {
	table := &Table{
		Header: []string{"日付"},
		Rows:   [][]string{{"2024-01-01"}, {"2024-01-01"}, {"2024-01-02"}},
	}
	records, _, err := Aggregate(table, DefaultOptions())
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if records[0].ReserveSum != 2 || records[0].FixedRatio != 0 {
		t.Errorf("unexpected record %+v", records[0])
	}
}

func TestAggregate_EmptyAndMissingDate(t *testing.T) {
	records, _, err := Aggregate(&Table{}, DefaultOptions())
	if err != nil || len(records) != 0 {
		t.Errorf("empty table: records=%v err=%v", records, err)
	}

	table := &Table{Header: []string{"台数"}, Rows: [][]string{{"1"}}}
	if _, _, err := Aggregate(table, DefaultOptions()); !errors.Is(err, ErrDateColumnNotFound) {
		t.Errorf("expected ErrDateColumnNotFound, got %v", err)
	}

	unparseable := &Table{Header: []string{"予約日"}, Rows: [][]string{{"??"}, {"--"}}}
	records, report, err := Aggregate(unparseable, DefaultOptions())
	if err != nil || len(records) != 0 || report.DropRatio() != 1 {
		t.Errorf("unparseable: records=%v report=%+v err=%v", records, report, err)
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	rows := [][]string{
		{"2024/05/01", "2", "1"},
		{"2024/05/01", "2", "1"},
		{"2024/05/01", "4", "0"},
		{"2024/05/03", "1", "0"},
	}
	dedupe := func(in [][]string) [][]string {
		seen := map[string]bool{}
		var out [][]string
		for _, r := range in {
			k := strings.Join(r, "\x00")
			if !seen[k] {
				seen[k] = true
				out = append(out, r)
			}
		}
		return out
	}
	header := []string{"予約日", "台数", "固定客"}

	once, _, err := Aggregate(&Table{Header: header, Rows: dedupe(rows)}, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	twice, _, err := Aggregate(&Table{Header: header, Rows: dedupe(append(dedupe(rows), dedupe(rows)...))}, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	if len(once) != len(twice) {
		t.Fatalf("day counts differ: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Errorf("day %d differs: %+v vs %+v", i, once[i], twice[i])
		}
	}
}

func TestAggregate_RowFilter(t *testing.T) {
	filter, err := NewRowFilter(`row["状態"] != "キャンセル" && count > 0`)
	if err != nil {
		t.Fatalf("NewRowFilter failed: %v", err)
	}
	table := &Table{
		Header: []string{"予約日", "台数", "状態"},
		Rows: [][]string{
			{"2024/05/01", "2", "確定"},
			{"2024/05/01", "3", "キャンセル"},
			{"2024/05/01", "0", "確定"},
		},
	}
	opts := DefaultOptions()
	opts.Filter = filter

	records, report, err := Aggregate(table, opts)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if report.Filtered != 2 {
		t.Errorf("filtered = %d, want 2", report.Filtered)
	}
	if len(records) != 1 || records[0].ReserveCount != 1 || records[0].ReserveSum != 2 {
		t.Errorf("unexpected records %+v", records)
	}

	if _, err := NewRowFilter("count +"); err == nil {
		t.Error("expected compile error")
	}
	if f, err := NewRowFilter("  "); f != nil || err != nil {
		t.Error("blank filter should be nil")
	}
}

func TestNormalize(t *testing.T) {
	in := []DailyRecord{
		{Date: date("2024-05-04"), ReserveCount: 1, ReserveSum: 1, FixedRatio: 1},
		{Date: date("2024-05-01"), ReserveCount: 2, ReserveSum: 3, FixedRatio: 0.5},
		{Date: date("2024-05-01"), ReserveCount: 1, ReserveSum: 1, FixedRatio: 0},
	}

	got := Normalize(in, true)
	if len(got) != 4 {
		t.Fatalf("expected 4 days after gap fill, got %d", len(got))
	}
	if got[0].ReserveCount != 3 || got[0].ReserveSum != 4 || got[0].FixedRatio != 0.25 {
		t.Errorf("merged day = %+v", got[0])
	}
	if got[1].ReserveCount != 0 || !got[1].Date.Equal(date("2024-05-02")) {
		t.Errorf("gap day = %+v", got[1])
	}
	for i := 1; i < len(got); i++ {
		if !got[i].Date.After(got[i-1].Date) {
			t.Errorf("dates not strictly increasing at %d", i)
		}
	}

	if n := len(Normalize(in, false)); n != 2 {
		t.Errorf("without gap fill expected 2 days, got %d", n)
	}
}

func TestParseFlagAndQuantity(t *testing.T) {
	for _, s := range []string{"1", "TRUE", "yes", "○", "固定", "２"} {
		if !ParseFlag(s) {
			t.Errorf("ParseFlag(%q) = false", s)
		}
	}
	for _, s := range []string{"", "0", "false", "×", "abc"} {
		if ParseFlag(s) {
			t.Errorf("ParseFlag(%q) = true", s)
		}
	}
	if q := ParseQuantity("１,２００"); q != 1200 {
		t.Errorf("ParseQuantity = %v", q)
	}
	if q := ParseQuantity("n/a"); q != 0 {
		t.Errorf("ParseQuantity(n/a) = %v", q)
	}
}
