package chat

import (
	"fmt"

	"github.com/artpar/chatgate/domain/quota"
)

// ErrorKind classifies a failed chat turn.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation_error"
	KindRateLimited     ErrorKind = "rate_limited"
	KindProviderFailure ErrorKind = "external_provider_failure"
	KindInternal        ErrorKind = "internal_fault"
)

// Error is a chat turn failure carrying everything needed to render it.
// Status is the HTTP status; Message is the user-facing (pt-BR) text.
type Error struct {
	Kind      ErrorKind
	Status    int
	Message   string
	Limit     quota.Kind // Set for KindRateLimited
	RetryIn   int        // Seconds, for quota.KindCooldown
	Retryable bool
	Err       error // Underlying cause, never shown verbatim except for internal faults
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Default support contact shown in provider failure messages.
const DefaultSupportContact = "carnivoros.br@gmail.com"

// User-facing messages.
const (
	msgMissingUser    = "Você precisa estar logado para usar o chat."
	msgMissingMessage = "Digite uma mensagem antes de enviar."
	msgMalformed      = "Requisição inválida."
	msgMessageCap     = "Você atingiu o limite de %d mensagens por dia. Volte amanhã!"
	msgCostCap        = "Você atingiu o limite diário de uso da IA. Volte amanhã!"
	msgCooldown       = "Aguarde %d segundos antes de enviar outra mensagem."
	msgProvider       = "Erro: Não foi possível obter uma resposta da IA. Tente novamente. Se o erro persistir contate: %s"
	msgInternal       = "Erro interno: %v"
)

// NewMissingUserError reports a missing user identity.
func NewMissingUserError() *Error {
	return &Error{Kind: KindValidation, Status: 400, Message: msgMissingUser}
}

// NewMissingMessageError reports an empty message.
func NewMissingMessageError() *Error {
	return &Error{Kind: KindValidation, Status: 400, Message: msgMissingMessage}
}

// NewMalformedError reports an undecodable request body.
func NewMalformedError(err error) *Error {
	return &Error{Kind: KindValidation, Status: 400, Message: msgMalformed, Err: err}
}

// NewRateLimitedError converts a rejected admission decision.
func NewRateLimitedError(d quota.Decision, lim quota.Limits) *Error {
	e := &Error{Kind: KindRateLimited, Status: 429, Limit: d.Kind, Retryable: true}
	switch d.Kind {
	case quota.KindDailyMessageCap:
		e.Message = fmt.Sprintf(msgMessageCap, lim.MaxMessagesPerDay)
	case quota.KindDailyCostCap:
		e.Message = msgCostCap
	case quota.KindCooldown:
		e.RetryIn = d.RetryAfterSeconds
		e.Message = fmt.Sprintf(msgCooldown, d.RetryAfterSeconds)
	}
	return e
}

// NewProviderError reports a failed or timed-out completion.
func NewProviderError(err error, retryable bool, contact string) *Error {
	if contact == "" {
		contact = DefaultSupportContact
	}
	return &Error{
		Kind:      KindProviderFailure,
		Status:    500,
		Message:   fmt.Sprintf(msgProvider, contact),
		Retryable: retryable,
		Err:       err,
	}
}

// NewInternalError reports an unexpected fault. The detail is included for diagnostics.
func NewInternalError(fault any) *Error {
	e := &Error{Kind: KindInternal, Status: 500, Message: fmt.Sprintf(msgInternal, fault)}
	if err, ok := fault.(error); ok {
		e.Err = err
	}
	return e
}

// CostCapNotice is attached to a successful reply that crossed the daily cost cap.
const CostCapNotice = msgCostCap
