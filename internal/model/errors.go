package model

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation возвращается при ошибке входных данных, обнаруженной до сетевого вызова.
	ErrValidation = errors.New("validation error")
	// ErrNoSession возвращается, если вызов требует сессию, а токен отсутствует.
	ErrNoSession = errors.New("no session token")
	// ErrVendorMismatch возвращается при добавлении в корзину товара другого продавца.
	ErrVendorMismatch = errors.New("product belongs to another vendor")
	// ErrInsufficientStock возвращается, если запрошенное количество превышает остаток.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrProductNotFound возвращается, если товар не найден в каталоге продавца.
	ErrProductNotFound = errors.New("product not found")
	// ErrNotCancellable возвращается при попытке отменить заказ после ранних этапов.
	ErrNotCancellable = errors.New("order is not cancellable")
	// ErrNotTracked возвращается, если заказ не отслеживается.
	ErrNotTracked = errors.New("order is not tracked")
	// ErrNetwork обозначает временную сетевую ошибку; запрос можно повторить.
	ErrNetwork = errors.New("network error")
	// ErrServerRejected обозначает отказ сервера; повтор без изменения запроса бесполезен.
	ErrServerRejected = errors.New("rejected by server")
)

// Validationf формирует ошибку валидации с пояснением.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// InsufficientStockError содержит максимально допустимое количество товара.
// При добавлении Requested и MaxAllowed считают добавляемые единицы сверх уже лежащих в корзине,
// при установке количества это итоговое количество позиции.
type InsufficientStockError struct {
	ProductID  string
	Requested  int
	MaxAllowed int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, max allowed %d", e.ProductID, e.Requested, e.MaxAllowed)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// ServerRejectedError содержит сообщение сервера, которое показывается пользователю без изменений.
type ServerRejectedError struct {
	StatusCode int
	Message    string
}

func (e *ServerRejectedError) Error() string {
	return e.Message
}

func (e *ServerRejectedError) Unwrap() error {
	return ErrServerRejected
}
