package domain

import (
	"errors"
	"fmt"
)

// Application errors
var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate дубликат записи
	ErrDuplicate = errors.New("duplicate record")

	// ErrInvalidInput неверные входные данные
	ErrInvalidInput = errors.New("invalid input data")

	// ErrInvalidSignature подпись вебхука не прошла проверку
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrMalformedPayload тело события не удалось разобрать
	ErrMalformedPayload = errors.New("malformed event payload")

	// ErrPayloadMismatch под уже обработанным ID события пришло другое тело
	ErrPayloadMismatch = errors.New("payload digest mismatch for processed event")

	// ErrInvalidPlan план не существует или неактивен
	ErrInvalidPlan = errors.New("unknown or inactive plan")

	// ErrUpstreamUnavailable платежная система недоступна, запрос можно повторить
	ErrUpstreamUnavailable = errors.New("payment provider unavailable")

	// ErrVersionConflict версия подписки изменилась между чтением и коммитом
	ErrVersionConflict = errors.New("subscription version conflict")

	// ErrUnauthenticated пользователь не аутентифицирован
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInternal внутренняя ошибка
	ErrInternal = errors.New("internal error")
)

// ReconcileError ошибка сверки вебхук-события
type ReconcileError struct {
	ExternalEventID string
	Intent          Intent
	Message         string
	OriginalErr     error
}

// Error реализует интерфейс error
func (e *ReconcileError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("reconcile error [%s]: %s: %v (event_id: %s)", e.Intent, e.Message, e.OriginalErr, e.ExternalEventID)
	}
	return fmt.Sprintf("reconcile error [%s]: %s (event_id: %s)", e.Intent, e.Message, e.ExternalEventID)
}

// Unwrap возвращает оригинальную ошибку
func (e *ReconcileError) Unwrap() error {
	return e.OriginalErr
}

// NewReconcileError создает новую ошибку сверки
func NewReconcileError(externalEventID string, intent Intent, message string, err error) *ReconcileError {
	return &ReconcileError{
		ExternalEventID: externalEventID,
		Intent:          intent,
		Message:         message,
		OriginalErr:     err,
	}
}

// NotFoundError представляет ошибку "не найдено"
type NotFoundError struct {
	Entity string
	ID     string
}

// Error реализует интерфейс error
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Entity, e.ID)
}

// Is проверяет, является ли ошибка ошибкой типа "не найдено"
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError создает новую ошибку "не найдено"
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// DuplicateError представляет ошибку дубликата
type DuplicateError struct {
	Entity string
	Field  string
	Value  string
}

// Error реализует интерфейс error
func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s with %s '%s' already exists", e.Entity, e.Field, e.Value)
}

// Is проверяет, является ли ошибка ошибкой дубликата
func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

// NewDuplicateError создает новую ошибку дубликата
func NewDuplicateError(entity, field, value string) *DuplicateError {
	return &DuplicateError{
		Entity: entity,
		Field:  field,
		Value:  value,
	}
}

// ExternalServiceError представляет ошибку внешнего сервиса
type ExternalServiceError struct {
	Service     string
	Code        string
	Message     string
	StatusCode  int
	OriginalErr error
}

// Error реализует интерфейс error
func (e *ExternalServiceError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("%s service error [%s]: %s: %v", e.Service, e.Code, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("%s service error [%s]: %s", e.Service, e.Code, e.Message)
}

// Unwrap возвращает оригинальную ошибку
func (e *ExternalServiceError) Unwrap() error {
	return e.OriginalErr
}

// NewExternalServiceError создает новую ошибку внешнего сервиса
func NewExternalServiceError(service, code, message string, statusCode int, err error) *ExternalServiceError {
	return &ExternalServiceError{
		Service:     service,
		Code:        code,
		Message:     message,
		StatusCode:  statusCode,
		OriginalErr: err,
	}
}
