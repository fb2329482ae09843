package enums

import "fmt"

// PromotionType maps to the promotion_type_enum enum in Postgres.
type PromotionType string

const (
	PromotionTypeAutomatic PromotionType = "automatic"
	PromotionTypeOneTime   PromotionType = "one_time"
)

var validPromotionTypes = []PromotionType{
	PromotionTypeAutomatic,
	PromotionTypeOneTime,
}

// IsValid reports whether the value matches the canonical promotion type enum.
func (t PromotionType) IsValid() bool {
	for _, candidate := range validPromotionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParsePromotionType converts raw input into a PromotionType.
func ParsePromotionType(value string) (PromotionType, error) {
	for _, candidate := range validPromotionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid promotion type %q", value)
}
