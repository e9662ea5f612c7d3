// Package transform turns raw clickstream records into normalized events.
//
// Record is shared by the batch and bulk runners. It projects the known
// fields, coerces price and quantity, derives calendar attributes from the
// timestamp and computes revenue. Sensitive attributes never reach the
// output because only listed fields are copied.
//
// Timestamp problems are silent: the calendar attributes are left out.
// Price and quantity coercion problems are returned to the caller.
package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	perrors "github.com/clickstream/clickstream-etl/internal/errors"
	"github.com/clickstream/clickstream-etl/pkg/types"
)

// timestampLayouts are tried in order. Layouts without a zone parse as UTC.
// Fractional seconds are accepted by every layout that has a seconds field.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Record normalizes one raw record. Missing or null fields default to the
// empty string or zero.
func Record(raw map[string]any) (types.NormalizedEvent, error) {
	ev := types.NormalizedEvent{
		EventID:         stringField(raw, types.FieldEventID),
		EventType:       stringField(raw, types.FieldEventType),
		EventTimestamp:  stringField(raw, types.FieldTimestamp),
		UserID:          stringField(raw, types.FieldUserID),
		SessionID:       stringField(raw, types.FieldSessionID),
		PageURL:         stringField(raw, types.FieldPageURL),
		ProductID:       stringField(raw, types.FieldProductID),
		ProductName:     stringField(raw, types.FieldProductName),
		ProductCategory: stringField(raw, types.FieldProductCategory),
		DeviceType:      stringField(raw, types.FieldDeviceType),
		Browser:         stringField(raw, types.FieldBrowser),
		Country:         stringField(raw, types.FieldCountry),
		City:            stringField(raw, types.FieldCity),
	}

	price, err := floatField(raw, types.FieldProductPrice)
	if err != nil {
		return types.NormalizedEvent{}, err
	}
	ev.ProductPrice = price

	qty, err := intField(raw, types.FieldQuantity)
	if err != nil {
		return types.NormalizedEvent{}, err
	}
	ev.Quantity = qty

	if ts, ok := ParseTimestamp(ev.EventTimestamp); ok {
		ev.Calendar = CalendarOf(ts)
	}

	if ev.EventType == types.EventTypePurchase {
		ev.Revenue = ev.ProductPrice * float64(ev.Quantity)
	}
	return ev, nil
}

// ParseTimestamp parses an ISO-8601 timestamp. A trailing "Z" means UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// CalendarOf derives calendar attributes in the timestamp's own offset.
func CalendarOf(t time.Time) *types.Calendar {
	return &types.Calendar{
		Year:      t.Format("2006"),
		Month:     t.Format("01"),
		Day:       t.Format("02"),
		Hour:      t.Format("15"),
		DayOfWeek: t.Weekday().String(),
		Date:      t.Format("2006-01-02"),
	}
}

func stringField(raw map[string]any, name string) string {
	v, ok := raw[name]
	if !ok || v == nil {
		return ""
	}
	switch v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return s
}

func floatField(raw map[string]any, name string) (float64, error) {
	v, ok := raw[name]
	if !ok || v == nil {
		return 0, nil
	}
	if s, isString := v.(string); isString {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, coercionError(name, v, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, coercionError(name, v, nil)
		}
		return f, nil
	}
	switch v.(type) {
	case map[string]any, []any:
		return 0, coercionError(name, v, nil)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, coercionError(name, v, err)
	}
	// Partition rows and sidecars are JSON, which has no NaN or Inf.
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, coercionError(name, v, nil)
	}
	return f, nil
}

func intField(raw map[string]any, name string) (int, error) {
	v, ok := raw[name]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, coercionError(name, v, err)
		}
		return i, nil
	case float64:
		n = math.Trunc(n)
		if math.IsNaN(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, coercionError(name, v, nil)
		}
		return int(n), nil
	case map[string]any, []any:
		return 0, coercionError(name, v, nil)
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		return 0, coercionError(name, v, err)
	}
	return i, nil
}

func coercionError(field string, value any, cause error) error {
	msg := fmt.Sprintf("cannot coerce %s value %v", field, value)
	return perrors.NewTransformError(perrors.CodeCoercionFailed, msg, cause).
		WithDetails(map[string]interface{}{"field": field})
}
