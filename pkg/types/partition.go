package types

import (
	"fmt"
	"strconv"
)

// DefaultPartitionValue names the partition for rows whose partition column is null.
const DefaultPartitionValue = "__HIVE_DEFAULT_PARTITION__"

// PartitionKey identifies a year/month/day subdivision of the transformed dataset.
type PartitionKey struct {
	// Year is the four-digit year (e.g., "2024")
	Year string `json:"year"`

	// Month is the zero-padded month (e.g., "01")
	Month string `json:"month"`

	// Day is the zero-padded day of month (e.g., "15")
	Day string `json:"day"`
}

// DefaultPartitionKey is used for rows without calendar attributes.
func DefaultPartitionKey() PartitionKey {
	return PartitionKey{Year: DefaultPartitionValue, Month: DefaultPartitionValue, Day: DefaultPartitionValue}
}

// IsDefault reports whether the key is the null partition.
func (k PartitionKey) IsDefault() bool {
	return k == DefaultPartitionKey()
}

// Path returns the Hive-style path fragment, e.g. "year=2024/month=01/day=15".
func (k PartitionKey) Path() string {
	return fmt.Sprintf("year=%s/month=%s/day=%s", k.Year, k.Month, k.Day)
}

// String returns a compact form of the key used in partition IDs.
func (k PartitionKey) String() string {
	if k.IsDefault() {
		return "default"
	}
	return k.Year + k.Month + k.Day
}

// Validate checks that all components are present and numeric, unless the
// key is the default partition.
func (k PartitionKey) Validate() error {
	if k.IsDefault() {
		return nil
	}
	for name, v := range map[string]string{"year": k.Year, "month": k.Month, "day": k.Day} {
		if v == "" {
			return fmt.Errorf("%w: %s is empty", ErrInvalidPartitionKey, name)
		}
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("%w: %s=%q is not numeric", ErrInvalidPartitionKey, name, v)
		}
	}
	return nil
}
