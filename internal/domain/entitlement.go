package domain

import "time"

// Action запрашиваемое действие
type Action string

const (
	ActionScan         Action = "scan"
	ActionCreateAPIKey Action = "create_api_key"
	ActionAPIRequest   Action = "api_request"
	ActionSchedule     Action = "schedule_scan"
	ActionExport       Action = "export_pdf"
)

// DenialReason машинно-читаемая причина отказа
type DenialReason string

const (
	ReasonNone                 DenialReason = ""
	ReasonNeedsAuth            DenialReason = "needsAuth"
	ReasonNeedsUpgrade         DenialReason = "needsUpgrade"
	ReasonDailyLimitReached    DenialReason = "dailyLimitReached"
	ReasonKeyLimitReached      DenialReason = "keyLimitReached"
	ReasonPlanRequired         DenialReason = "planRequired"
	ReasonQuotaExceeded        DenialReason = "quotaExceeded"
	ReasonInvalidKey           DenialReason = "invalidKey"
	ReasonScheduleLimitReached DenialReason = "scheduleLimitReached"
)

// ResultShape полнота ответа
type ResultShape string

const (
	ShapeTeaser ResultShape = "teaser"
	ShapeFull   ResultShape = "full"
)

// Identity кто выполняет запрос: анонимный посетитель или пользователь
type Identity struct {
	UserID string
	// HasMarker у анонимного посетителя уже стоит cookie первого скана
	HasMarker bool
}

// Anonymous true если пользователь не аутентифицирован
func (i Identity) Anonymous() bool {
	return i.UserID == ""
}

// ScanDecision решение по запросу скана
type ScanDecision struct {
	Allowed bool
	Reason  DenialReason
	Shape   ResultShape
	Plan    Plan
	// SetMarker вызывающий должен поставить одноразовую cookie (анонимный скан)
	SetMarker bool
	Limit     int
	Used      int
	// ResetAt для дневного лимита: следующая полночь по канонической таймзоне
	ResetAt *time.Time
}

// KeyCreationDecision решение о создании API ключа
type KeyCreationDecision struct {
	Allowed      bool
	Reason       DenialReason
	Plan         Plan
	Limit        int
	CurrentCount int
}

// APIRequestDecision решение по вызову API
type APIRequestDecision struct {
	Allowed    bool
	Reason     DenialReason
	UserID     string
	KeyID      string
	Plan       Plan
	Limit      int
	Remaining  int
	ResetEpoch int64
}

// FeatureDecision решение для простых функций (расписание, экспорт)
type FeatureDecision struct {
	Allowed      bool
	Reason       DenialReason
	Plan         Plan
	Limit        int
	CurrentCount int
}
