package judge

import (
	"fmt"
	"github.com/marcboeker/go-duckdb"
	"github.com/shopspring/decimal"
	"strconv"
	"strings"
	"time"
)

const (
	nullText       = "NULL"
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
)

// Normalize renders one cell as the string it is graded by. databaseType is
// the column type reported by the driver and may be empty.
func Normalize(value interface{}, databaseType string) string {
	if value == nil {
		return nullText
	}

	if isDecimalType(databaseType) {
		if d, ok := toDecimal(value); ok {
			return d.String()
		}
	}

	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int:
		return strconv.Itoa(v)
	case uint64:
		return strconv.FormatUint(v, 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return formatTime(v, databaseType)
	case decimal.Decimal:
		return v.String()
	case duckdb.Decimal, *duckdb.Decimal:
		if d, ok := toDecimal(v); ok {
			return d.String()
		}
		return nullText
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// NormalizeRow renders a scanned row. types holds the database type of each
// column and may be shorter than values.
func NormalizeRow(values []interface{}, types []string) []string {
	row := make([]string, len(values))
	for i, v := range values {
		var t string
		if i < len(types) {
			t = types[i]
		}
		row[i] = Normalize(v, t)
	}
	return row
}

func isDecimalType(databaseType string) bool {
	t := strings.ToUpper(databaseType)
	return strings.HasPrefix(t, "DECIMAL") || strings.HasPrefix(t, "NUMERIC")
}

func toDecimal(value interface{}) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		return d, err == nil
	case []byte:
		d, err := decimal.NewFromString(strings.TrimSpace(string(v)))
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(v), true
	case float32:
		return decimal.NewFromFloat32(v), true
	case int64:
		return decimal.NewFromInt(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case decimal.Decimal:
		return v, true
	case duckdb.Decimal:
		return fromDuckDBDecimal(&v)
	case *duckdb.Decimal:
		return fromDuckDBDecimal(v)
	default:
		return decimal.Decimal{}, false
	}
}

// fromDuckDBDecimal converts the unscaled value and scale duckdb reports.
func fromDuckDBDecimal(v *duckdb.Decimal) (decimal.Decimal, bool) {
	if v == nil || v.Value == nil {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromBigInt(v.Value, -int32(v.Scale)), true
}

// formatTime prints midnight values of date columns without a clock and
// everything else to the second, keeping fractional seconds only when
// present.
func formatTime(t time.Time, databaseType string) string {
	midnight := t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
	if midnight && !strings.Contains(strings.ToUpper(databaseType), "TIME") {
		return t.Format(dateLayout)
	}
	if t.Nanosecond() != 0 {
		return t.Format(dateTimeLayout + ".999999999")
	}
	return t.Format(dateTimeLayout)
}
