package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/example/bookshop/pkg/errs"
	"github.com/example/bookshop/pkg/mailer"
	"github.com/example/bookshop/pkg/models"
	"github.com/example/bookshop/pkg/payments"
	"github.com/example/bookshop/pkg/repository"
	"github.com/example/bookshop/pkg/shipping"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// checkoutItem accepts both current and legacy client field names:
// title|name for the label, unit_amount|amount for the price.
type checkoutItem struct {
	Title      string `json:"title"`
	Name       string `json:"name"`
	UnitAmount int64  `json:"unit_amount"`
	Amount     int64  `json:"amount"`
	Price      int64  `json:"price"`
	Quantity   int64  `json:"quantity"`
}

type checkoutRequest struct {
	Items         []checkoutItem `json:"items"`
	CustomerEmail string         `json:"customerEmail"`
}

func (r *checkoutRequest) cartItems() []payments.CartItem {
	items := make([]payments.CartItem, len(r.Items))
	for i, it := range r.Items {
		title := it.Title
		if title == "" {
			title = it.Name
		}
		amount := it.UnitAmount
		if amount == 0 {
			amount = it.Amount
		}
		if amount == 0 {
			amount = it.Price
		}
		items[i] = payments.CartItem{Title: title, UnitAmount: amount, Quantity: it.Quantity}
	}
	return items
}

func (s *Server) handleCreateCheckoutSession(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	id, err := s.payments.CreateCheckoutSession(c.Request.Context(), req.cartItems(), req.CustomerEmail)
	if err != nil {
		if errs.IsValidation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		// Processor internals stay in the log.
		s.logger.Error("Checkout session creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Checkout failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id})
}

// handleWebhook runs the finalization pipeline: verify the signature over the
// exact raw bytes, normalize, persist, notify. Persistence is awaited; mail
// is not. Insert failures are dead-lettered and still acknowledged with 200
// so the processor does not redeliver and double-email the customer.
func (s *Server) handleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	event, err := s.payments.VerifyWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		s.logger.Warn("Webhook signature rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	result, ok := payments.Normalize(event)
	if !ok {
		go s.recordAudit(&repository.WebhookAudit{
			EventID:   event.ID,
			EventType: string(event.Type),
			Outcome:   "ignored",
		})
		c.Status(http.StatusOK)
		return
	}

	order := orderFromResult(result)

	outcome := "processed"
	if err := s.orders.Insert(c.Request.Context(), order); err != nil {
		// Deliberate: the row may be lost, but the processor must not
		// retry the event. The dead letter is the recovery path.
		s.logger.Error("Order save failed",
			zap.String("session_id", result.SessionID), zap.Error(err))
		outcome = "insert_failed"
		go s.recordDeadLetter(result, err)
	} else {
		s.logger.Info("Order saved",
			zap.String("order_id", order.ID),
			zap.String("session_id", result.SessionID))
	}

	go s.recordAudit(&repository.WebhookAudit{
		EventID:   event.ID,
		EventType: string(event.Type),
		SessionID: result.SessionID,
		Outcome:   outcome,
	})

	s.notifier.Send(&mailer.SendCustomerConfirmation{
		Email:   result.Email,
		Name:    result.Name,
		Summary: result.Summary,
		Amount:  result.Amount,
		Address: result.Address,
	})
	s.notifier.Send(&mailer.SendAdminAlert{
		CustomerEmail:  result.Email,
		CustomerName:   result.Name,
		Summary:        result.Summary,
		SessionID:      result.SessionID,
		Address:        result.Address,
		ShippingAmount: result.ShippingAmount,
	})

	c.Status(http.StatusOK)
}

func (s *Server) handleGetSession(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if view, err := s.cache.GetSessionCache(ctx, id); err == nil {
		c.JSON(http.StatusOK, view)
		return
	}

	sess, err := s.payments.GetSession(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not fetch session"})
		return
	}

	email, items, amount, address := payments.NormalizeSession(sess)
	view := &repository.SessionView{
		CustomerEmail: email,
		Items:         items,
		Amount:        amount,
		Address:       address,
	}

	if err := s.cache.CacheSession(ctx, id, view); err != nil {
		s.logger.Warn("Session cache write failed", zap.String("session_id", id), zap.Error(err))
	}

	c.JSON(http.StatusOK, view)
}

func (s *Server) handleListOrders(c *gin.Context) {
	filter := repository.OrderFilter{
		Email:     c.Query("email"),
		BookTitle: c.Query("bookTitle"),
	}

	orders, err := s.orders.List(c.Request.Context(), filter)
	if err != nil {
		s.logger.Error("Order listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch orders"})
		return
	}

	c.JSON(http.StatusOK, orders)
}

func (s *Server) handleExportOrders(c *gin.Context) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="orders.csv"`)

	if err := s.orders.ExportCSV(c.Request.Context(), c.Writer); err != nil {
		s.logger.Error("Order export failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Export failed"})
	}
}

func (s *Server) handleNewsletterSignup(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid email address"})
		return
	}

	signup := &models.NewsletterSignup{Email: email, IP: c.ClientIP()}
	if err := s.newsletter.Insert(c.Request.Context(), signup); err != nil {
		if errs.IsConflict(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "Email already subscribed"})
			return
		}
		s.logger.Error("Newsletter signup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Signup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleListNewsletter(c *gin.Context) {
	signups, err := s.newsletter.List(c.Request.Context())
	if err != nil {
		s.logger.Error("Newsletter listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch signups"})
		return
	}

	c.JSON(http.StatusOK, signups)
}

func (s *Server) handleExportNewsletter(c *gin.Context) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="newsletter.csv"`)

	if err := s.newsletter.ExportCSV(c.Request.Context(), c.Writer); err != nil {
		s.logger.Error("Newsletter export failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Export failed"})
	}
}

func (s *Server) handleContact(c *gin.Context) {
	var req struct {
		Name    string `json:"name"`
		Email   string `json:"email"`
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.Email == "" || !strings.Contains(req.Email, "@") || req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email and message are required"})
		return
	}

	s.notifier.Send(&mailer.SendContactRelay{
		Name:    req.Name,
		Email:   req.Email,
		Message: req.Message,
	})

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleCalculateShipping(c *gin.Context) {
	var req struct {
		Address struct {
			Country string `json:"country"`
			State   string `json:"state"`
		} `json:"address"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	cost, err := shipping.Quote(req.Address.Country, req.Address.State)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cost": cost})
}

func orderFromResult(result *payments.CheckoutResult) *models.Order {
	order := &models.Order{
		Name:      result.Name,
		Email:     result.Email,
		BookTitle: result.Summary,
		Amount:    result.Amount,
	}

	if len(result.Items) > 0 {
		if data, err := json.Marshal(result.Items); err == nil {
			order.Items = string(data)
		}
	}

	if addr := result.Address; addr != nil {
		order.ShippingLine1 = addr.Line1
		order.ShippingLine2 = addr.Line2
		order.ShippingCity = addr.City
		order.ShippingState = addr.State
		order.ShippingPostalCode = addr.PostalCode
		order.ShippingCountry = addr.Country
	}

	return order
}

// recordAudit and recordDeadLetter run detached from the request; Mongo
// unavailability must never affect the webhook acknowledgement.

func (s *Server) recordAudit(audit *repository.WebhookAudit) {
	if err := s.audit.RecordWebhookAudit(context.Background(), audit); err != nil {
		s.logger.Warn("Webhook audit write failed", zap.String("event_id", audit.EventID), zap.Error(err))
	}
}

func (s *Server) recordDeadLetter(result *payments.CheckoutResult, cause error) {
	dl := &repository.DeadLetter{
		SessionID: result.SessionID,
		Reason:    cause.Error(),
		Order: map[string]interface{}{
			"name":    result.Name,
			"email":   result.Email,
			"summary": result.Summary,
			"amount":  result.Amount,
		},
	}
	if err := s.audit.RecordDeadLetter(context.Background(), dl); err != nil {
		s.logger.Error("Dead letter write failed", zap.String("session_id", result.SessionID), zap.Error(err))
	}
}
