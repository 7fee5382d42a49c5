package mapper

import (
	"testing"
	"time"

	"github.com/andys/listimport/schema"
	"github.com/frankban/quicktest"
)

func testClassification() schema.Classification {
	return schema.Classify([]schema.Field{
		{Name: "Title", Type: "varchar"},
		{Name: "Status", Type: "enum", Kind: schema.Choice, Choices: schema.NewChoiceSet("Active", "Inactive")},
		{Name: "Tags", Type: "set", Kind: schema.MultiChoice, Choices: schema.NewChoiceSet("Red", "Green", "Blue")},
		{Name: "Notes", Type: "text"},
	})
}

func makeRow(no int64, header []string, values ...string) Row {
	return Row{No: no, Header: NewHeader(header), Values: values}
}

func TestMap_PlainFieldsVerbatim(t *testing.T) {
	c := quicktest.New(t)
	row := makeRow(1, []string{"Name", "Comment"}, "Widget", "  keep my spaces ")
	colMap := map[string]string{"Name": "Title", "Comment": "Notes"}

	rec, warnings := Map(row, colMap, testClassification(), Options{})
	c.Assert(warnings, quicktest.HasLen, 0)
	c.Assert(rec.Row, quicktest.Equals, int64(1))
	c.Assert(rec.Fields, quicktest.DeepEquals, map[string]interface{}{
		"Title": "Widget",
		"Notes": "  keep my spaces ",
	})
}

func TestMap_KeysAreDestinationFields(t *testing.T) {
	c := quicktest.New(t)
	row := makeRow(3, []string{"Name", "State", "Colours", "Unmapped"}, "A", "active", "red", "x")
	colMap := map[string]string{"Name": "Title", "State": "Status", "Colours": "Tags"}

	rec, _ := Map(row, colMap, testClassification(), Options{})
	targets := map[string]bool{"Title": true, "Status": true, "Tags": true}
	for key := range rec.Fields {
		c.Assert(targets[key], quicktest.IsTrue, quicktest.Commentf("unexpected key %q", key))
	}
	c.Assert(rec.Fields["Unmapped"], quicktest.IsNil)
	c.Assert(rec.Fields["State"], quicktest.IsNil)
}

func TestMap_SkipsAbsentAndEmptyColumns(t *testing.T) {
	c := quicktest.New(t)
	row := makeRow(1, []string{"Name", "State"}, "   ", "")
	colMap := map[string]string{"Name": "Title", "State": "Status", "Missing": "Notes"}

	rec, warnings := Map(row, colMap, testClassification(), Options{})
	c.Assert(warnings, quicktest.HasLen, 0)
	c.Assert(rec.Fields, quicktest.HasLen, 0)
}

func TestMap_ShortRowTreatsTrailingColumnsAsAbsent(t *testing.T) {
	c := quicktest.New(t)
	row := makeRow(1, []string{"Name", "State"}, "Only name")
	rec, warnings := Map(row, map[string]string{"Name": "Title", "State": "Status"}, testClassification(), Options{})
	c.Assert(warnings, quicktest.HasLen, 0)
	c.Assert(rec.Fields, quicktest.DeepEquals, map[string]interface{}{"Title": "Only name"})
}

func TestMap_ChoiceNormalizesCasing(t *testing.T) {
	c := quicktest.New(t)
	row := makeRow(1, []string{"State"}, "INACTIVE")
	rec, warnings := Map(row, map[string]string{"State": "Status"}, testClassification(), Options{})
	c.Assert(warnings, quicktest.HasLen, 0)
	c.Assert(rec.Fields["Status"], quicktest.Equals, "Inactive")
}

func TestMap_ChoiceInvalidValueWarnsOnce(t *testing.T) {
	c := quicktest.New(t)
	row := makeRow(7, []string{"State"}, "Pending")
	rec, warnings := Map(row, map[string]string{"State": "Status"}, testClassification(), Options{})
	c.Assert(warnings, quicktest.DeepEquals, []InvalidChoice{{Row: 7, Field: "Status", Value: "Pending"}})
	_, ok := rec.Fields["Status"]
	c.Assert(ok, quicktest.IsFalse)
}

func TestMap_ChoiceTrailingSpaceIsInvalidByDefault(t *testing.T) {
	c := quicktest.New(t)
	row := makeRow(1, []string{"Status"}, "active ")
	rec, warnings := Map(row, map[string]string{"Status": "Status"}, testClassification(), Options{})
	c.Assert(warnings, quicktest.HasLen, 1)
	c.Assert(warnings[0].Value, quicktest.Equals, "active ")
	_, ok := rec.Fields["Status"]
	c.Assert(ok, quicktest.IsFalse)
}

func TestMap_ChoiceTrailingSpaceWithTrimChoices(t *testing.T) {
	c := quicktest.New(t)
	row := makeRow(1, []string{"Status"}, "active ")
	rec, warnings := Map(row, map[string]string{"Status": "Status"}, testClassification(), Options{TrimChoices: true})
	c.Assert(warnings, quicktest.HasLen, 0)
	c.Assert(rec.Fields["Status"], quicktest.Equals, "Active")
}

func TestMap_MultiChoiceSplitsAndNormalizes(t *testing.T) {
	c := quicktest.New(t)
	row := makeRow(1, []string{"Colours"}, " red ; GREEN,blue")
	rec, warnings := Map(row, map[string]string{"Colours": "Tags"}, testClassification(), Options{})
	c.Assert(warnings, quicktest.HasLen, 0)
	c.Assert(rec.Fields["Tags"], quicktest.DeepEquals, []string{"Red", "Green", "Blue"})
}

func TestMap_MultiChoiceWarnsPerInvalidPiece(t *testing.T) {
	c := quicktest.New(t)
	row := makeRow(2, []string{"Colours"}, "red;purple, orange;;green, red")
	rec, warnings := Map(row, map[string]string{"Colours": "Tags"}, testClassification(), Options{})
	c.Assert(warnings, quicktest.DeepEquals, []InvalidChoice{
		{Row: 2, Field: "Tags", Value: "purple"},
		{Row: 2, Field: "Tags", Value: "orange"},
	})
	c.Assert(rec.Fields["Tags"], quicktest.DeepEquals, []string{"Red", "Green"})
}

func TestMap_MultiChoiceAllInvalidOmitsField(t *testing.T) {
	c := quicktest.New(t)
	row := makeRow(1, []string{"Colours"}, "purple;orange")
	rec, warnings := Map(row, map[string]string{"Colours": "Tags"}, testClassification(), Options{})
	c.Assert(warnings, quicktest.HasLen, 2)
	_, ok := rec.Fields["Tags"]
	c.Assert(ok, quicktest.IsFalse)
}

func TestMap_PreserveDatesCapturesRawValues(t *testing.T) {
	c := quicktest.New(t)
	row := makeRow(1, []string{"Name", "Created", "Modified"}, "A", "2021-01-05", "not a date")

	rec, _ := Map(row, map[string]string{"Name": "Title"}, testClassification(), Options{PreserveDates: true})
	c.Assert(rec.Created, quicktest.Equals, "2021-01-05")
	c.Assert(rec.Modified, quicktest.Equals, "not a date")
	c.Assert(rec.HasTimestamps, quicktest.IsTrue)
	c.Assert(rec.Fields, quicktest.DeepEquals, map[string]interface{}{"Title": "A"})

	rec, _ = Map(row, map[string]string{"Name": "Title"}, testClassification(), Options{})
	c.Assert(rec.Created, quicktest.Equals, "")
	c.Assert(rec.HasTimestamps, quicktest.IsFalse)
}

func TestMap_PreserveDatesWithoutColumns(t *testing.T) {
	c := quicktest.New(t)
	row := makeRow(1, []string{"Name"}, "A")
	rec, _ := Map(row, map[string]string{"Name": "Title"}, testClassification(), Options{PreserveDates: true})
	c.Assert(rec.HasTimestamps, quicktest.IsFalse)
}

func TestParseTimestamp(t *testing.T) {
	c := quicktest.New(t)

	ts, ok := ParseTimestamp("2021-01-05", time.UTC)
	c.Assert(ok, quicktest.IsTrue)
	c.Assert(ts.Format("2006-01-02T15:04:05"), quicktest.Equals, "2021-01-05T00:00:00")

	ts, ok = ParseTimestamp("3/14/2020 1:05 PM", time.UTC)
	c.Assert(ok, quicktest.IsTrue)
	c.Assert(ts.Equal(time.Date(2020, 3, 14, 13, 5, 0, 0, time.UTC)), quicktest.IsTrue)

	ts, ok = ParseTimestamp("2020-06-01T10:00:00+02:00", time.UTC)
	c.Assert(ok, quicktest.IsTrue)
	c.Assert(ts.Equal(time.Date(2020, 6, 1, 8, 0, 0, 0, time.UTC)), quicktest.IsTrue)

	_, ok = ParseTimestamp("yesterday", time.UTC)
	c.Assert(ok, quicktest.IsFalse)
	_, ok = ParseTimestamp("  ", time.UTC)
	c.Assert(ok, quicktest.IsFalse)
}
