// Package orders exposes the rental order lifecycle over HTTP.
package orders

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/evrent-backend/api/middleware"
	"github.com/angelmondragon/evrent-backend/api/responses"
	"github.com/angelmondragon/evrent-backend/api/validators"
	internalorders "github.com/angelmondragon/evrent-backend/internal/orders"
	"github.com/angelmondragon/evrent-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
)

type checkoutRequest struct {
	PaymentMethod string `json:"paymentMethod" validate:"required,payment_method"`
	SourceID      string `json:"sourceId" validate:"omitempty,max=255"`
	ReturnURL     string `json:"returnUrl" validate:"omitempty,url"`
	CancelURL     string `json:"cancelUrl" validate:"omitempty,url"`
}

func (c checkoutRequest) options(r *http.Request) internalorders.CheckoutOptions {
	method, _ := enums.ParsePaymentMethod(c.PaymentMethod)
	return internalorders.CheckoutOptions{
		Method:    method,
		SourceID:  strings.TrimSpace(c.SourceID),
		ReturnURL: c.ReturnURL,
		CancelURL: c.CancelURL,
		ClientIP:  middleware.ClientIPFromContext(r.Context()),
	}
}

type createOrderRequest struct {
	VehicleID   string          `json:"vehicleId" validate:"required,uuid"`
	StationID   string          `json:"stationId" validate:"required,uuid"`
	StartTime   time.Time       `json:"startTime" validate:"required"`
	EndTime     time.Time       `json:"endTime" validate:"required,gtfield=StartTime"`
	BasePrice   decimal.Decimal `json:"basePrice" validate:"money_nonneg"`
	PromotionID *string         `json:"promotionId" validate:"omitempty,uuid"`
	checkoutRequest
}

type cancelOrderRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

type cashPaymentRequest struct {
	PaymentID string `json:"paymentId" validate:"required,uuid"`
}

func requester(r *http.Request) (internalorders.Requester, error) {
	accountID := middleware.AccountIDFromContext(r.Context())
	if accountID == uuid.Nil {
		return internalorders.Requester{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing")
	}
	return internalorders.Requester{AccountID: accountID, Role: middleware.RoleFromContext(r.Context())}, nil
}

// Create books a vehicle and starts the deposit payment.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := requester(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body createOrderRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := internalorders.CreateOrderInput{
			CustomerID: req.AccountID,
			VehicleID:  uuid.MustParse(body.VehicleID),
			StationID:  uuid.MustParse(body.StationID),
			Start:      body.StartTime,
			End:        body.EndTime,
			BasePrice:  body.BasePrice,
			Checkout:   body.options(r),
		}
		if body.PromotionID != nil {
			promoID := uuid.MustParse(*body.PromotionID)
			input.PromotionID = &promoID
		}

		result, err := svc.CreateOrderWithDeposit(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, withPendingOrder(err, result))
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// withPendingOrder names the order that stays PENDING after a failed deposit
// attempt so the client can retry it.
func withPendingOrder(err error, result *internalorders.PaymentResult) error {
	typed := pkgerrors.As(err)
	if typed == nil || result == nil || result.Order == nil {
		return err
	}
	details, _ := typed.Details().(map[string]any)
	if details == nil {
		details = map[string]any{}
	}
	details["orderId"] = result.Order.ID
	if result.Payment != nil {
		details["paymentId"] = result.Payment.ID
	}
	typed.WithDetails(details)
	return err
}

// List returns the caller's orders, newest first.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := requester(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListCustomerOrders(r.Context(), req.AccountID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// Detail returns one order with its payment history.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := requester(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.GetOrder(r.Context(), orderID, req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// PayDeposit opens a fresh deposit attempt for a PENDING order.
func PayDeposit(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := requester(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body checkoutRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.PayDeposit(r.Context(), internalorders.PayDepositInput{
			OrderID:   orderID,
			Requester: req,
			Checkout:  body.options(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Start hands the vehicle over. Staff only.
func Start(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := requester(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.StartRental(r.Context(), orderID, req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// Complete settles the remaining balance and closes the rental.
func Complete(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := requester(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body checkoutRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.CompleteOrderWithFinalPayment(r.Context(), internalorders.CompleteInput{
			OrderID:   orderID,
			Requester: req,
			Checkout:  body.options(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Cancel cancels a PENDING or CONFIRMED order and refunds the collected deposit.
func Cancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := requester(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body cancelOrderRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.CancelOrderWithRefund(r.Context(), internalorders.CancelInput{
			OrderID:   orderID,
			Requester: &req,
			Reason:    validators.SanitizeString(body.Reason, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// ConfirmCash records cash received at the desk for one of the order's payments.
func ConfirmCash(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := requester(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body cashPaymentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		paymentID := uuid.MustParse(body.PaymentID)
		payment, err := svc.GetPayment(r.Context(), paymentID, req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payment.OrderID != orderID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found"))
			return
		}
		result, err := svc.ConfirmCashPayment(r.Context(), paymentID, req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
