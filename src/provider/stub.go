package provider

import (
	"context"
	"errors"

	"github.com/alexsandroveiga/pasarela/src/domain"
)

var ErrNotImplemented = errors.New("provider integration not implemented")

// Stub stands in for an integration that has credentials but no client yet.
// The health registry reports it NOT_IMPLEMENTED so routing never picks it.
type Stub struct {
	provider domain.Provider
}

func NewStub(p domain.Provider) *Stub {
	return &Stub{provider: p}
}

func (s *Stub) Provider() domain.Provider { return s.provider }

func (s *Stub) CreateSession(context.Context, SessionRequest) (Session, error) {
	return Session{}, downstream(s.provider, domain.ProviderErrorValidation, ErrNotImplemented)
}

func (s *Stub) Refund(context.Context, RefundRequest) (string, error) {
	return "", downstream(s.provider, domain.ProviderErrorValidation, ErrNotImplemented)
}
