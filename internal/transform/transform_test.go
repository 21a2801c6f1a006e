package transform

import (
	"strings"
	"testing"
	"time"

	"github.com/mhollis/docmigrate/internal/source"
)

func TestConvertValue(t *testing.T) {
	ts := time.Date(2024, 3, 15, 10, 30, 0, 0, time.FixedZone("EST", -5*3600))

	tests := []struct {
		name     string
		dataType string
		in       any
		want     any
		wantErr  bool
	}{
		{"nil passes through", "int", nil, nil, false},
		{"int passes through", "int", int64(42), int64(42), false},
		{"uuid string", "uniqueidentifier", "6F9619FF-8B86-D011-B42D-00C04FC964FF", "6f9619ff-8b86-d011-b42d-00c04fc964ff", false},
		{"uuid bad string", "uniqueidentifier", "not-a-uuid", nil, true},
		{"uuid wrong type", "uniqueidentifier", int64(1), nil, true},
		{"decimal bytes", "decimal", []byte("1234.56"), "1234.56", false},
		{"decimal garbage", "decimal", []byte("12x.56"), nil, true},
		{"money float", "money", float64(19.99), float64(19.99), false},
		{"bit bool", "bit", true, true, false},
		{"bit int", "bit", int64(1), true, false},
		{"bit zero", "bit", int64(0), false, false},
		{"varchar string", "varchar", "hello", "hello", false},
		{"nvarchar bytes", "nvarchar", []byte("world"), "world", false},
		{"text strips nul", "text", "a\x00b", "ab", false},
		{"varbinary bytes", "varbinary", []byte{0x01, 0x02}, []byte{0x01, 0x02}, false},
		{"varbinary wrong type", "varbinary", "nope", nil, true},
		{"datetime wrong type", "datetime", "2024-01-01", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := convertValue(tt.in, &source.Column{Name: "c", DataType: tt.dataType})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("convertValue(%v) expected error, got %v", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("convertValue(%v) unexpected error: %v", tt.in, err)
			}
			switch want := tt.want.(type) {
			case []byte:
				gb, ok := got.([]byte)
				if !ok || string(gb) != string(want) {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			default:
				if got != tt.want {
					t.Errorf("got %v (%T), want %v (%T)", got, got, tt.want, tt.want)
				}
			}
		})
	}

	t.Run("datetime normalizes to UTC", func(t *testing.T) {
		got, err := convertValue(ts, &source.Column{Name: "c", DataType: "datetime2"})
		if err != nil {
			t.Fatal(err)
		}
		tm := got.(time.Time)
		if tm.Location() != time.UTC {
			t.Errorf("expected UTC, got %v", tm.Location())
		}
		if !tm.Equal(ts) {
			t.Errorf("instant changed: got %v, want %v", tm, ts)
		}
	})
}

func testTable() *source.Table {
	return &source.Table{
		Schema: "dbo",
		Name:   "Doc",
		Columns: []source.Column{
			{Name: "DocID", DataType: "int"},
			{Name: "FileName", DataType: "nvarchar"},
			{Name: "Amount", DataType: "decimal"},
		},
		PrimaryKey: []string{"DocID"},
	}
}

func TestTargetColumns(t *testing.T) {
	tr := New(testTable())
	got := strings.Join(tr.TargetColumns(), ",")
	if got != "docid,filename,amount" {
		t.Errorf("TargetColumns() = %q", got)
	}
	if pk := tr.TargetPKColumns(); len(pk) != 1 || pk[0] != "docid" {
		t.Errorf("TargetPKColumns() = %v", pk)
	}
}

func TestBatchIsolatesBadRows(t *testing.T) {
	tr := New(testTable())
	b := &source.Batch{
		Table:   "dbo.Doc",
		Columns: []string{"DocID", "FileName", "Amount"},
		Rows: [][]any{
			{int64(1), "a.pdf", []byte("10.00")},
			{int64(2), "b.pdf", []byte("not-a-number")},
			{int64(3), "c.pdf", []byte("30.50")},
		},
	}

	res := tr.Batch(b)
	if len(res.Rows) != 2 {
		t.Fatalf("expected 2 good rows, got %d", len(res.Rows))
	}
	if len(res.Failed) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(res.Failed))
	}
	f := res.Failed[0]
	if f.ID != "2" || f.Index != 1 {
		t.Errorf("failure = %+v", f)
	}
	if f.Err == nil || !strings.Contains(f.Err.Error(), "Amount") {
		t.Errorf("failure error should name the column, got %v", f.Err)
	}
	if res.RowIDs[0] != "1" || res.RowIDs[1] != "3" {
		t.Errorf("RowIDs = %v", res.RowIDs)
	}
}

func TestRowLengthMismatch(t *testing.T) {
	tr := New(testTable())
	if _, err := tr.Row([]any{int64(1), "a.pdf"}); err == nil {
		t.Fatal("expected error for short row")
	}
}
