package handoff

import (
	"encoding/json"
	"fmt"
)

// Message types crossing window boundaries.
const (
	TypeOAuthSuccess   = "OAUTH_SUCCESS"
	TypeOAuthError     = "OAUTH_ERROR"
	TypePaymentSuccess = "PAYMENT_SUCCESS"
	TypePaymentFail    = "PAYMENT_FAIL"
	TypePaymentAck     = "PAYMENT_ACK"
)

// Login is the payload delivered on a successful OAuth login.
type Login struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType,omitempty"`
	ExpiresIn   int64  `json:"expiresIn,omitempty"`
}

// PaymentResult identifies a confirmed payment.
type PaymentResult struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

// PaymentError is a failed or aborted payment.
type PaymentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	OrderID string `json:"orderId,omitempty"`
}

// Message is the discriminated union carried between a popup and its
// opener. It exists only on the wire and is never persisted.
type Message struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error json.RawMessage `json:"error,omitempty"`
}

func NewOAuthSuccess(l Login) Message {
	data, _ := json.Marshal(l)
	return Message{Type: TypeOAuthSuccess, Data: data}
}

func NewOAuthError(msg string) Message {
	e, _ := json.Marshal(msg)
	return Message{Type: TypeOAuthError, Error: e}
}

func NewPaymentSuccess(r PaymentResult) Message {
	data, _ := json.Marshal(r)
	return Message{Type: TypePaymentSuccess, Data: data}
}

func NewPaymentFail(e PaymentError) Message {
	raw, _ := json.Marshal(e)
	return Message{Type: TypePaymentFail, Error: raw}
}

func NewPaymentAck() Message {
	return Message{Type: TypePaymentAck}
}

func (m Message) OAuthLogin() (Login, error) {
	if m.Type != TypeOAuthSuccess {
		return Login{}, fmt.Errorf("handoff: message type %s carries no login", m.Type)
	}
	var l Login
	if err := json.Unmarshal(m.Data, &l); err != nil {
		return Login{}, fmt.Errorf("handoff: malformed login payload: %w", err)
	}
	return l, nil
}

func (m Message) OAuthErrorMessage() (string, error) {
	if m.Type != TypeOAuthError {
		return "", fmt.Errorf("handoff: message type %s carries no oauth error", m.Type)
	}
	var s string
	if err := json.Unmarshal(m.Error, &s); err != nil {
		return "", fmt.Errorf("handoff: malformed oauth error: %w", err)
	}
	return s, nil
}

func (m Message) Payment() (PaymentResult, error) {
	if m.Type != TypePaymentSuccess {
		return PaymentResult{}, fmt.Errorf("handoff: message type %s carries no payment", m.Type)
	}
	var r PaymentResult
	if err := json.Unmarshal(m.Data, &r); err != nil {
		return PaymentResult{}, fmt.Errorf("handoff: malformed payment payload: %w", err)
	}
	return r, nil
}

func (m Message) PaymentFailure() (PaymentError, error) {
	if m.Type != TypePaymentFail {
		return PaymentError{}, fmt.Errorf("handoff: message type %s carries no payment failure", m.Type)
	}
	var e PaymentError
	if err := json.Unmarshal(m.Error, &e); err != nil {
		return PaymentError{}, fmt.Errorf("handoff: malformed payment failure: %w", err)
	}
	return e, nil
}
