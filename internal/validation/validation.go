// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"

	"github.com/mmeshcher/localhub-client/internal/model"
)

const maxIDLength = 64

// IsValidID проверяет идентификатор продавца, товара или заказа:
// непустая строка из латиницы, цифр, '_' и '-' длиной не более 64 символов.
func IsValidID(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}

	for i := 0; i < len(id); i++ {
		ch := id[i]
		switch {
		case ch >= 'a' && ch <= 'z':
		case ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9':
		case ch == '_' || ch == '-':
		default:
			return false
		}
	}

	return true
}

// NormalizeAddress убирает лишние пробелы и проверяет координаты адреса доставки.
func NormalizeAddress(a model.Address) (model.Address, error) {
	a.Label = strings.TrimSpace(a.Label)
	a.Line = strings.Join(strings.Fields(a.Line), " ")

	if a.IsBlank() {
		return a, model.Validationf("delivery address is required")
	}
	if (a.Lat == nil) != (a.Lng == nil) {
		return a, model.Validationf("both lat and lng are required")
	}
	if a.Lat != nil && (*a.Lat < -90 || *a.Lat > 90) {
		return a, model.Validationf("lat %v is out of range", *a.Lat)
	}
	if a.Lng != nil && (*a.Lng < -180 || *a.Lng > 180) {
		return a, model.Validationf("lng %v is out of range", *a.Lng)
	}

	return a, nil
}
