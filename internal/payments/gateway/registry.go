package gateway

import (
	"fmt"

	"github.com/angelmondragon/evrent-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
)

// Registry selects a gateway by payment method.
type Registry struct {
	gateways map[enums.PaymentMethod]Gateway
}

// NewRegistry indexes the configured gateways. A method registered twice is an error.
func NewRegistry(gateways ...Gateway) (*Registry, error) {
	r := &Registry{gateways: make(map[enums.PaymentMethod]Gateway, len(gateways))}
	for _, gw := range gateways {
		if gw == nil {
			continue
		}
		method := gw.Method()
		if !method.UsesGateway() {
			return nil, fmt.Errorf("method %s is not settled by a gateway", method)
		}
		if _, exists := r.gateways[method]; exists {
			return nil, fmt.Errorf("gateway for %s registered twice", method)
		}
		r.gateways[method] = gw
	}
	return r, nil
}

// Get returns the gateway for method or a validation error when none is configured.
func (r *Registry) Get(method enums.PaymentMethod) (Gateway, error) {
	if r != nil {
		if gw, ok := r.gateways[method]; ok {
			return gw, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("payment method %s is not available", method))
}

// Methods lists the configured methods.
func (r *Registry) Methods() []enums.PaymentMethod {
	if r == nil {
		return nil
	}
	out := make([]enums.PaymentMethod, 0, len(r.gateways))
	for method := range r.gateways {
		out = append(out, method)
	}
	return out
}
