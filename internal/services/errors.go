package services

import (
	"errors"
	"fmt"
)

// Кастомные ошибки сервиса. Слой обработчиков сопоставляет их с HTTP-статусами.
var (
	// ErrNotFound - неизвестный ID, несовпадение платформы, неизвестный бандл/тег
	// или висячая запись индекса. Все эти случаи для вызывающего неразличимы.
	ErrNotFound = errors.New("сборка не найдена")
	// ErrInvalidFileType - неподдерживаемое расширение или нераспознанный пакет.
	ErrInvalidFileType = errors.New("неверный тип файла: ожидается .ipa или .apk")
	// ErrInvalidRequest - не хватает обязательных полей регистрации.
	ErrInvalidRequest = errors.New("неверный запрос")
)

// UpstreamError означает неуспешную загрузку артефакта с внешнего хоста.
type UpstreamError struct {
	Status int   // HTTP-статус внешнего хоста (502, если ответа не было)
	Err    error // Причина для сетевых ошибок, может быть nil
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ошибка загрузки артефакта с внешнего хоста (статус %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("ошибка загрузки артефакта с внешнего хоста: статус %d", e.Status)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
