package valueobject

import "github.com/google/uuid"

type ActorRole string

const (
	RolePassenger ActorRole = "passenger"
	RoleDriver    ActorRole = "driver"
	RoleAdmin     ActorRole = "admin"
	RoleSystem    ActorRole = "system"
)

// Actor - аутентифицированный инициатор действия (из identity-сервиса) или сама система.
type Actor struct {
	ID   uuid.UUID
	Role ActorRole
}

func SystemActor() Actor {
	return Actor{Role: RoleSystem}
}

func (a Actor) IsPrivileged() bool {
	return a.Role == RoleSystem || a.Role == RoleAdmin
}

func (a Actor) String() string {
	if a.ID == uuid.Nil {
		return string(a.Role)
	}
	return string(a.Role) + ":" + a.ID.String()
}

// Origin помечает, кто инициирует переход платежа.
type Origin string

const (
	// OriginOrchestrator - исходящий синхронный вызов процессора из саги.
	OriginOrchestrator Origin = "orchestrator"
	// OriginWebhook - входящее асинхронное событие процессора.
	OriginWebhook Origin = "webhook"
	// OriginReconciliation - фактический статус, полученный опросом процессора.
	OriginReconciliation Origin = "reconciliation"
	// OriginResolution - административное решение по спору.
	OriginResolution Origin = "resolution"
)

// IsProcessorReported: факт сообщён самим процессором, а не запрошен нами.
func (o Origin) IsProcessorReported() bool {
	return o == OriginWebhook || o == OriginReconciliation
}

// PendingOperation - исходящая операция, запрошенная у процессора и ожидающая подтверждения.
type PendingOperation string

const (
	PendingNone    PendingOperation = ""
	PendingCapture PendingOperation = "capture"
	PendingRefund  PendingOperation = "refund"
)
