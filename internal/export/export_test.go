package export

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/pfrederiksen/geodash/internal/table"
)

func testTable(t *testing.T) *table.Normalized {
	t.Helper()
	n, err := table.Normalize(table.NewRaw([][]string{
		{"1-1 人口", "", ""},
		{"地区", "人口", "备注"},
		{"全国", "100", ""},
		{"北京", "19", "首都"},
		{"上海", "23", "-"},
	}), table.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(testTable(t), &buf); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("len(rows) = %d, want 4", len(rows))
	}
	if rows[0][0] != "1-1 人口" {
		t.Errorf("A1 = %q", rows[0][0])
	}

	wantHeader := []string{"地区", "人口", "备注", table.LocationColumn}
	for i, h := range wantHeader {
		if rows[1][i] != h {
			t.Errorf("header[%d] = %q, want %q", i, rows[1][i], h)
		}
	}
	if rows[2][0] != "北京" || rows[2][1] != "19" || rows[2][3] != "北京" {
		t.Errorf("row 3 = %q", rows[2])
	}

	typ, err := f.GetCellType(SheetName, "B3")
	if err != nil {
		t.Fatal(err)
	}
	if typ == excelize.CellTypeSharedString || typ == excelize.CellTypeInlineString {
		t.Errorf("B3 stored as string, want number")
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "B0101.xlsx")
	if err := WriteFile(testTable(t), path); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer f.Close()

	v, err := f.GetCellValue(SheetName, "A5")
	if err != nil {
		t.Fatal(err)
	}
	if v != "上海" {
		t.Errorf("A5 = %q, want 上海", v)
	}
}
