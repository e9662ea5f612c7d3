package generator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func isOneOf(v string, values []string) bool {
	for _, x := range values {
		if v == x {
			return true
		}
	}
	return false
}

func idInRange(id, prefix string, max int) bool {
	n, err := strconv.Atoi(strings.TrimPrefix(id, prefix))
	return strings.HasPrefix(id, prefix) && err == nil && n >= 1 && n <= max
}

func checkEvent(ev Event) error {
	if !isOneOf(ev.EventType, EventTypes) {
		return fmt.Errorf("unknown event type %q", ev.EventType)
	}
	if !idInRange(ev.UserID, "user_", maxUserID) {
		return fmt.Errorf("bad user_id %q", ev.UserID)
	}
	if ev.IPAddress == "" {
		return fmt.Errorf("missing ip_address")
	}

	switch ev.EventType {
	case "page_view", "add_to_cart", "remove_from_cart", "purchase":
		if !idInRange(ev.ProductID, "prod_", maxProduct) {
			return fmt.Errorf("bad product_id %q", ev.ProductID)
		}
		if !isOneOf(ev.ProductCategory, ProductCategories) {
			return fmt.Errorf("bad category %q", ev.ProductCategory)
		}
		if ev.ProductPrice < minPrice || ev.ProductPrice > maxPrice {
			return fmt.Errorf("price %v out of range", ev.ProductPrice)
		}
		if math.Abs(ev.ProductPrice*100-math.Round(ev.ProductPrice*100)) > 1e-6 {
			return fmt.Errorf("price %v not rounded to cents", ev.ProductPrice)
		}
		if ev.EventType == "add_to_cart" || ev.EventType == "purchase" {
			if ev.Quantity < 1 || ev.Quantity > maxQuantity {
				return fmt.Errorf("quantity %d out of range", ev.Quantity)
			}
		} else if ev.Quantity != 1 {
			return fmt.Errorf("quantity %d for %s", ev.Quantity, ev.EventType)
		}
	default:
		if ev.ProductID != "" || ev.ProductPrice != 0 || ev.Quantity != 0 {
			return fmt.Errorf("%s carries product attributes", ev.EventType)
		}
	}
	return nil
}

// Generated events follow the value rules for every seed.
func TestProperty_GeneratedEventsFollowRules(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("event fields respect their pools and ranges", prop.ForAll(
		func(seed int64) string {
			g := New(&recordingSink{}, Config{Seed: seed}, clockwork.NewFakeClock(), nil, nil)
			for i := 0; i < 50; i++ {
				if err := checkEvent(g.Event()); err != nil {
					return err.Error()
				}
			}
			return ""
		},
		gen.Int64Range(1, math.MaxInt64),
	))

	properties.TestingRun(t)
}
