// Package types provides core data types for the clickstream pipeline.
package types

// Raw and normalized field names.
const (
	FieldEventID         = "event_id"
	FieldEventType       = "event_type"
	FieldTimestamp       = "timestamp"
	FieldEventTimestamp  = "event_timestamp"
	FieldUserID          = "user_id"
	FieldSessionID       = "session_id"
	FieldPageURL         = "page_url"
	FieldProductID       = "product_id"
	FieldProductName     = "product_name"
	FieldProductCategory = "product_category"
	FieldProductPrice    = "product_price"
	FieldQuantity        = "quantity"
	FieldDeviceType      = "device_type"
	FieldBrowser         = "browser"
	FieldCountry         = "country"
	FieldCity            = "city"
	FieldIPAddress       = "ip_address"
	FieldEmail           = "email"

	FieldYear      = "year"
	FieldMonth     = "month"
	FieldDay       = "day"
	FieldHour      = "hour"
	FieldDayOfWeek = "day_of_week"
	FieldDate      = "date"
	FieldRevenue   = "revenue"
)

// EventTypePurchase is the only event type that carries revenue.
const EventTypePurchase = "purchase"

// SensitiveFields are present in raw events and never in normalized output.
var SensitiveFields = []string{FieldIPAddress, FieldEmail}

// RawRecord is a decoded raw clickstream line: field name to JSON value.
type RawRecord map[string]any

// Calendar holds the attributes derived from an event timestamp.
type Calendar struct {
	Year      string `json:"year"`
	Month     string `json:"month"`
	Day       string `json:"day"`
	Hour      string `json:"hour"`
	DayOfWeek string `json:"day_of_week"`
	Date      string `json:"date"`
}

// NormalizedEvent is a clickstream event after projection, coercion and enrichment.
type NormalizedEvent struct {
	EventID         string
	EventType       string
	EventTimestamp  string
	UserID          string
	SessionID       string
	PageURL         string
	ProductID       string
	ProductName     string
	ProductCategory string
	ProductPrice    float64
	Quantity        int
	DeviceType      string
	Browser         string
	Country         string
	City            string

	// Calendar is nil when the timestamp could not be parsed.
	Calendar *Calendar

	Revenue float64
}

// PartitionKey returns the year/month/day partition of the event.
// ok is false when the event has no calendar attributes.
func (e NormalizedEvent) PartitionKey() (key PartitionKey, ok bool) {
	if e.Calendar == nil {
		return PartitionKey{}, false
	}
	return PartitionKey{Year: e.Calendar.Year, Month: e.Calendar.Month, Day: e.Calendar.Day}, true
}

// Fields returns the mapping form of the event. Calendar keys are absent
// when Calendar is nil.
func (e NormalizedEvent) Fields() map[string]any {
	m := map[string]any{
		FieldEventID:         e.EventID,
		FieldEventType:       e.EventType,
		FieldEventTimestamp:  e.EventTimestamp,
		FieldUserID:          e.UserID,
		FieldSessionID:       e.SessionID,
		FieldPageURL:         e.PageURL,
		FieldProductID:       e.ProductID,
		FieldProductName:     e.ProductName,
		FieldProductCategory: e.ProductCategory,
		FieldProductPrice:    e.ProductPrice,
		FieldQuantity:        e.Quantity,
		FieldDeviceType:      e.DeviceType,
		FieldBrowser:         e.Browser,
		FieldCountry:         e.Country,
		FieldCity:            e.City,
		FieldRevenue:         e.Revenue,
	}
	if c := e.Calendar; c != nil {
		m[FieldYear] = c.Year
		m[FieldMonth] = c.Month
		m[FieldDay] = c.Day
		m[FieldHour] = c.Hour
		m[FieldDayOfWeek] = c.DayOfWeek
		m[FieldDate] = c.Date
	}
	return m
}
