package migration

import (
	"strconv"

	"github.com/ppongpan/Q-Collector-sub018/schema"
)

// boundedWidth maps the bounded-string logical types to the column
// length spec §3's mapping table fixes for each.
var boundedWidth = map[LogicalType]int{
	ShortAnswer:    255,
	Email:          255,
	MultipleChoice: 255,
	Factory:        255,
	Phone:          20,
	URL:            500,
	Province:       100,
}

// category classifies a LogicalType for the conversion matrix in
// typeconv.go. schema stays agnostic of logical types; this mapping is
// the migration package's domain knowledge.
type category int

const (
	catBoundedString category = iota
	catText
	catNumeric
	catInteger
	catDate
	catTime
	catDatetime
	catDocument
)

func categoryOf(lt LogicalType) category {
	if _, ok := boundedWidth[lt]; ok {
		return catBoundedString
	}
	switch lt {
	case Paragraph, FileUpload, ImageUpload, Unknown:
		return catText
	case Number:
		return catNumeric
	case Rating, Slider:
		return catInteger
	case Date:
		return catDate
	case Time:
		return catTime
	case DateTime:
		return catDatetime
	case LatLong:
		return catDocument
	default:
		return catText
	}
}

// PhysicalTypeFor returns the fixed logical-to-physical mapping from
// spec §3 / SPEC_FULL.md §3.
func PhysicalTypeFor(lt LogicalType) schema.PhysicalType {
	if w, ok := boundedWidth[lt]; ok {
		return schema.PhysicalType{
			Name:  "varchar",
			SQL:   "varchar(" + strconv.Itoa(w) + ")",
			Check: "length(%[1]s) <= " + strconv.Itoa(w),
		}
	}

	switch lt {
	case Paragraph, FileUpload, ImageUpload, Unknown:
		return schema.PhysicalType{Name: "text", SQL: "text"}
	case Number:
		// Arbitrary-precision numeric: SQLite has no such native type,
		// so the canonical decimal string is stored verbatim in a text
		// column rather than a numeric-affinity one, to avoid silent
		// float64 rounding on write (see SPEC_FULL.md §3).
		return schema.PhysicalType{Name: "numeric", SQL: "text"}
	case Date:
		return schema.PhysicalType{Name: "date", SQL: "date", Check: "%[1]s is null or date(%[1]s) is not null"}
	case Time:
		return schema.PhysicalType{Name: "time", SQL: "time", Check: "%[1]s is null or time(%[1]s) is not null"}
	case DateTime:
		return schema.PhysicalType{Name: "timestamp", SQL: "timestamp", Check: "%[1]s is null or datetime(%[1]s) is not null"}
	case Rating, Slider:
		return schema.PhysicalType{Name: "integer", SQL: "integer"}
	case LatLong:
		return schema.PhysicalType{Name: "document", SQL: "text", Check: "%[1]s is null or json_valid(%[1]s)"}
	default:
		return schema.PhysicalType{Name: "text", SQL: "text"}
	}
}
