package ua

import "sync"

// SubscriptionHandle непрозрачный идентификатор клиентской подписки
type SubscriptionHandle uint64

// PublicationHandle непрозрачный идентификатор публикации
type PublicationHandle uint64

// ConversationProfileHandle непрозрачный идентификатор профиля.
// Регистрация профиля использует тот же хэндл (связь 1:1).
type ConversationProfileHandle uint64

// Нулевое значение зарезервировано под "не задано"
const (
	NoSubscription        SubscriptionHandle        = 0
	NoPublication         PublicationHandle         = 0
	NoConversationProfile ConversationProfileHandle = 0
)

// handleAllocator выдает строго возрастающие хэндлы начиная с 1.
// Может вызываться из любой горутины.
type handleAllocator[H ~uint64] struct {
	mu   sync.Mutex
	next H
}

func newHandleAllocator[H ~uint64]() *handleAllocator[H] {
	return &handleAllocator[H]{next: 1}
}

// Next возвращает следующий хэндл категории
func (a *handleAllocator[H]) Next() H {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := a.next
	a.next++
	return h
}

// optionalProfile явное "может быть пусто" для профиля по умолчанию
type optionalProfile struct {
	handle ConversationProfileHandle
	set    bool
}

func (o optionalProfile) get() (ConversationProfileHandle, bool) {
	return o.handle, o.set
}

func (o optionalProfile) value() ConversationProfileHandle {
	if !o.set {
		return NoConversationProfile
	}
	return o.handle
}

func someProfile(h ConversationProfileHandle) optionalProfile {
	return optionalProfile{handle: h, set: true}
}
