package models

// Request models
type TokenRequest struct {
	ClientID     string `json:"clientId" binding:"required"`
	ClientSecret string `json:"clientSecret" binding:"required"`
}

type TransactionRequest struct {
	ActorID        string  `json:"actorId"`
	ActorName      string  `json:"actorName" binding:"required"`
	Amount         float64 `json:"amount" binding:"required"`
	CurrencyTag    string  `json:"currencyTag" binding:"omitempty,max=1"`
	OriginalSender string  `json:"originalSender"`
}

type ReversalRequest struct {
	TransactionRequest
	Kind TransactionKind `json:"kind" binding:"required,oneof=deposit disbursement"`
}

type FeeRateRequest struct {
	Actor   string   `json:"actor" binding:"required"`
	Percent *float64 `json:"percent" binding:"required,gte=0,lte=100"`
}

type ExchangeRateRequest struct {
	Actor    string   `json:"actor" binding:"required"`
	Currency string   `json:"currency" binding:"required"`
	Rate     *float64 `json:"rate" binding:"required,gte=0"`
}

type TimezoneRequest struct {
	Actor        string `json:"actor" binding:"required"`
	Timezone     string `json:"timezone" binding:"required"`
	Title        string `json:"title"`
	RolloverTime string `json:"rolloverTime"`
}

type ActorRequest struct {
	Actor string `json:"actor" binding:"required"`
}

type GrantRequest struct {
	Grantor string `json:"grantor" binding:"required"`
	Target  string `json:"target" binding:"required"`
	Tier    Tier   `json:"tier" binding:"required,oneof=level1 level2"`
	Days    *int   `json:"days"`
}

type GroupAccessRequest struct {
	Grantor string `json:"grantor" binding:"required"`
	Days    *int   `json:"days"`
}

type OperatorRequest struct {
	Actor  string `json:"actor" binding:"required"`
	Target string `json:"target" binding:"required"`
}

// Response models
type TokenResponse struct {
	Status    string `json:"status"`
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"`
}

type TransactionResponse struct {
	Status      string      `json:"status"`
	Transaction Transaction `json:"transaction"`
	TotalIn     float64     `json:"totalIn"`
	TotalOut    float64     `json:"totalOut"`
	CurrencyOut float64     `json:"currencyOut"`
	Text        string      `json:"text"`
}

type TextResponse struct {
	Status string `json:"status"`
	Text   string `json:"text"`
}

type RolloverResponse struct {
	Status         string  `json:"status"`
	Text           string  `json:"text"`
	Remaining      float64 `json:"remaining"`
	CarriedForward float64 `json:"carriedForward"`
}

type AuthorizedResponse struct {
	Status     string `json:"status"`
	Principal  string `json:"principal"`
	Authorized bool   `json:"authorized"`
	Tier       Tier   `json:"tier,omitempty"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
