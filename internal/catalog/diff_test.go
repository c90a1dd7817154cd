package catalog

import (
	"reflect"
	"testing"
)

func TestDiff(t *testing.T) {
	previous := New([]Entry{
		NewEntry("1-1 户数", "html/B0101.htm"),
		NewEntry("1-2 人口", "html/A0102.htm"),
		NewEntry("附录", "html/fu01.htm"),
	})
	current := New([]Entry{
		NewEntry("1-1 户数", "html/B0101.htm"),
		NewEntry("1-2 户籍人口", "html/A0102.htm"),
		NewEntry("1-3 性别比", "html/A0103.htm"),
	})

	t.Run("finds changes", func(t *testing.T) {
		result := Diff(previous, current)

		if !reflect.DeepEqual(result.Added, []Entry{NewEntry("1-3 性别比", "html/A0103.htm")}) {
			t.Errorf("Added = %+v", result.Added)
		}
		if !reflect.DeepEqual(result.Removed, []Entry{NewEntry("附录", "html/fu01.htm")}) {
			t.Errorf("Removed = %+v", result.Removed)
		}
		wantRenamed := []Rename{{Path: "html/A0102.htm", OldName: "1-2 人口", NewName: "1-2 户籍人口"}}
		if !reflect.DeepEqual(result.Renamed, wantRenamed) {
			t.Errorf("Renamed = %+v", result.Renamed)
		}
		if result.Empty() {
			t.Error("Empty() = true")
		}
	})

	t.Run("identical catalogs", func(t *testing.T) {
		if result := Diff(current, current); !result.Empty() {
			t.Errorf("Diff(c, c) = %+v", result)
		}
	})

	t.Run("nil previous", func(t *testing.T) {
		result := Diff(nil, current)
		if len(result.Added) != 3 || len(result.Removed) != 0 {
			t.Errorf("Diff(nil, c) = %+v", result)
		}
		// sorted by path
		if result.Added[0].Path != "html/A0102.htm" || result.Added[2].Path != "html/B0101.htm" {
			t.Errorf("Added order = %+v", result.Added)
		}
	})
}
