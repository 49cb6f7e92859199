// Package billing receives payment-provider confirmations and turns them
// into credit grants. Checkout session creation lives outside this core;
// only the webhook side effects are handled here.
package billing

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rotisserie/eris"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"

	"github.com/propale/propale/internal/ledger"
	"github.com/propale/propale/internal/model"
	"github.com/propale/propale/internal/store"
)

const maxWebhookBody = 64 * 1024

// CreditGranter is the slice of the ledger the webhook needs.
type CreditGranter interface {
	Credit(ctx context.Context, orgID string, amount float64) (float64, error)
}

// Config holds webhook verification settings.
type Config struct {
	WebhookSecret string `yaml:"webhook_secret" mapstructure:"webhook_secret"`
}

// Handler processes Stripe webhook events idempotently: each event id is
// recorded once, and a retried event whose credit never landed is credited
// on the retry.
type Handler struct {
	store  store.Store
	ledger CreditGranter
	secret string
}

// NewHandler creates a webhook Handler.
func NewHandler(st store.Store, granter CreditGranter, cfg Config) *Handler {
	return &Handler{store: st, ledger: granter, secret: cfg.WebhookSecret}
}

// ServeHTTP verifies the event signature and dispatches it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, `{"error":"unreadable body"}`, http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.secret)
	if err != nil {
		zap.L().Warn("stripe webhook signature rejected", zap.Error(err))
		http.Error(w, `{"error":"invalid signature"}`, http.StatusBadRequest)
		return
	}

	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.handleCheckoutCompleted(r.Context(), event); err != nil {
		zap.L().Error("stripe webhook processing failed",
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		http.Error(w, `{"error":"processing failed"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleCheckoutCompleted records the transaction and credits the
// organization with the purchase amount plus its tier bonus.
func (h *Handler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return eris.Wrap(err, "billing: decode checkout session")
	}

	orgID := sess.ClientReferenceID
	if orgID == "" {
		orgID = sess.Metadata["organization_id"]
	}
	if orgID == "" {
		return eris.Errorf("billing: event %s carries no organization reference", event.ID)
	}

	amount := float64(sess.AmountTotal) / 100
	granted := ledger.GrantedCredits(amount)

	existing, err := h.store.GetTransactionByEvent(ctx, event.ID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status == model.TxSucceeded {
		// Retried event, already fully processed.
		return nil
	}

	txID := ""
	if existing == nil {
		tx := model.StripeTransaction{
			OrganizationID: orgID,
			SessionID:      sess.ID,
			EventID:        event.ID,
			Amount:         amount,
			CreditsGranted: granted,
			Status:         model.TxPending,
		}
		won, err := h.store.InsertTransaction(ctx, tx)
		if err != nil {
			return err
		}
		if !won {
			// A concurrent delivery recorded the event between our read
			// and insert; that delivery owns the credit. If it dies before
			// crediting, the row stays pending and the provider's retry
			// lands in the branch below.
			zap.L().Info("stripe event already recorded, skipping",
				zap.String("event_id", event.ID),
			)
			return nil
		}
		inserted, err := h.store.GetTransactionByEvent(ctx, event.ID)
		if err != nil {
			return err
		}
		if inserted == nil {
			return eris.Errorf("billing: transaction for event %s vanished", event.ID)
		}
		txID = inserted.ID
	} else {
		txID = existing.ID
	}

	balance, err := h.ledger.Credit(ctx, orgID, granted)
	if err != nil {
		return err
	}
	if err := h.store.UpdateTransactionStatus(ctx, txID, model.TxSucceeded); err != nil {
		return err
	}

	zap.L().Info("credits granted",
		zap.String("organization_id", orgID),
		zap.Float64("amount", amount),
		zap.Float64("credits_granted", granted),
		zap.Float64("balance", balance),
	)
	return nil
}
