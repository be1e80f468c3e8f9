package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
	"github.com/vipogroup/vipo_backend/config"
	"github.com/vipogroup/vipo_backend/models"
)

// tokenSafetyMargin is subtracted from the advertised token lifetime.
const tokenSafetyMargin = 5 * time.Minute

// PriorityAPIError is a non-2xx answer from the ERP.
type PriorityAPIError struct {
	StatusCode int
	Body       string
}

func (e *PriorityAPIError) Error() string {
	return fmt.Sprintf("Priority API error (%d): %s", e.StatusCode, e.Body)
}

func (e *PriorityAPIError) retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// PriorityClient talks to the Priority ERP OData API with client-credentials
// OAuth. It is safe for concurrent use.
type PriorityClient struct {
	cfg        config.PriorityConfig
	httpClient *http.Client
	retryBase  time.Duration
	now        func() time.Time

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewPriorityClient(cfg config.PriorityConfig) *PriorityClient {
	if missing := cfg.Missing(); len(missing) > 0 {
		log.Warn().Strs("missing", missing).Msg("Priority ERP not configured")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &PriorityClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		retryBase:  time.Second,
		now:        time.Now,
	}
}

func (c *PriorityClient) Configured() bool {
	return c != nil && c.cfg.Configured()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *PriorityClient) authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	header := http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}

	var token tokenResponse
	if err := c.rawRequest(ctx, http.MethodPost, "/oauth/token", header, []byte(form.Encode()), &token); err != nil {
		return "", fmt.Errorf("priority authentication: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("priority authentication: empty access token")
	}

	c.accessToken = token.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(token.ExpiresIn)*time.Second - tokenSafetyMargin)
	return c.accessToken, nil
}

func (c *PriorityClient) rawRequest(ctx context.Context, method, endpoint string, header http.Header, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &PriorityAPIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// call performs one authenticated request.
func (c *PriorityClient) call(ctx context.Context, method, endpoint string, payload, out interface{}) error {
	token, err := c.authenticate(ctx)
	if err != nil {
		return err
	}

	var body []byte
	if payload != nil {
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	header := http.Header{
		"Content-Type":  {"application/json"},
		"Authorization": {"Bearer " + token},
	}
	return c.rawRequest(ctx, method, endpoint, header, body, out)
}

// retrying runs fn with exponential backoff while it fails with a transport
// error or a 5xx/429 answer.
func (c *PriorityClient) retrying(ctx context.Context, endpoint string, fn func(ctx context.Context) error) error {
	attempts := c.cfg.Retries
	if attempts == 0 {
		attempts = 1
	}
	backoff := retry.WithMaxRetries(attempts-1, retry.NewExponential(c.retryBase))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var apiErr *PriorityAPIError
		if errors.As(err, &apiErr) && !apiErr.retryable() {
			return err
		}
		log.Ctx(ctx).Warn().Err(err).Str("endpoint", endpoint).Msg("Priority request failed, retrying")
		return retry.RetryableError(err)
	})
}

// request performs an idempotent call with retries.
func (c *PriorityClient) request(ctx context.Context, method, endpoint string, payload, out interface{}) error {
	return c.retrying(ctx, endpoint, func(ctx context.Context) error {
		return c.call(ctx, method, endpoint, payload, out)
	})
}

// create POSTs a new document. A failed attempt may still have created it on
// the ERP side, so each retry first asks existing whether it is there.
func (c *PriorityClient) create(ctx context.Context, endpoint string, payload, out interface{}, existing func(ctx context.Context) (bool, error)) error {
	attempt := 0
	return c.retrying(ctx, endpoint, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			found, err := existing(ctx)
			if err != nil {
				return err
			}
			if found {
				return nil
			}
		}
		return c.call(ctx, http.MethodPost, endpoint, payload, out)
	})
}

func filterQuery(field, value string) string {
	return "?$filter=" + url.PathEscape(fmt.Sprintf("%s eq '%s'", field, odataQuote(value)))
}

func (c *PriorityClient) odataPath(entity string) string {
	return "/odata/Priority/" + c.cfg.CompanyCode + "/" + entity
}

type Supplier struct {
	ID    string `json:"SUPNAME"`
	Name  string `json:"SUPDES"`
	Email string `json:"EMAIL,omitempty"`
	Phone string `json:"PHONE,omitempty"`
	VatID string `json:"WTAXNUM,omitempty"`
}

type SupplierQuery struct {
	SupplierID string
	Email      string
	Phone      string
	VatID      string
}

type odataList[T any] struct {
	Value []T `json:"value"`
}

// FindSupplier returns the first supplier matching any of the query fields,
// nil when none does.
func (c *PriorityClient) FindSupplier(ctx context.Context, q SupplierQuery) (*Supplier, error) {
	var filters []string
	if q.SupplierID != "" {
		filters = append(filters, fmt.Sprintf("SUPNAME eq '%s'", odataQuote(q.SupplierID)))
	}
	if q.Email != "" {
		filters = append(filters, fmt.Sprintf("EMAIL eq '%s'", odataQuote(q.Email)))
	}
	if q.Phone != "" {
		filters = append(filters, fmt.Sprintf("PHONE eq '%s'", odataQuote(q.Phone)))
	}
	if q.VatID != "" {
		filters = append(filters, fmt.Sprintf("WTAXNUM eq '%s'", odataQuote(q.VatID)))
	}
	if len(filters) == 0 {
		return nil, nil
	}

	filter := url.PathEscape(strings.Join(filters, " or "))
	var list odataList[Supplier]
	if err := c.request(ctx, http.MethodGet, c.odataPath("SUPPLIERS")+"?$filter="+filter, nil, &list); err != nil {
		return nil, err
	}
	if len(list.Value) == 0 {
		return nil, nil
	}
	return &list.Value[0], nil
}

func (c *PriorityClient) CreateSupplier(ctx context.Context, s Supplier) (*Supplier, error) {
	var created Supplier
	err := c.create(ctx, c.odataPath("SUPPLIERS"), s, &created, func(ctx context.Context) (bool, error) {
		if s.ID == "" {
			return false, nil
		}
		var list odataList[Supplier]
		if err := c.call(ctx, http.MethodGet, c.odataPath("SUPPLIERS")+filterQuery("SUPNAME", s.ID), nil, &list); err != nil {
			return false, err
		}
		if len(list.Value) == 0 {
			return false, nil
		}
		created = list.Value[0]
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if created.ID == "" {
		created.ID = s.ID
	}
	return &created, nil
}

type SupplierPayment struct {
	SupplierID  string  `json:"SUPNAME"`
	Amount      float64 `json:"QPRICE"`
	Date        string  `json:"CURDATE"`
	Description string  `json:"DETAILS"`
	Reference   string  `json:"BOOKNUM"`
	ExternalRef string  `json:"IVREF,omitempty"`
	MethodCode  string  `json:"PAYMENTCODE"`
	BankAccount string  `json:"BANKACCOUNT,omitempty"`
}

type paymentResponse struct {
	ID        string `json:"FNCNUM"`
	Reference string `json:"BOOKNUM,omitempty"`
}

// FindPayment returns the number of the payment document booked under
// reference, "" when there is none.
func (c *PriorityClient) FindPayment(ctx context.Context, reference string) (string, error) {
	var id string
	err := c.retrying(ctx, c.odataPath("FNCTRANS"), func(ctx context.Context) error {
		var err error
		id, err = c.findPayment(ctx, reference)
		return err
	})
	return id, err
}

func (c *PriorityClient) findPayment(ctx context.Context, reference string) (string, error) {
	var list odataList[paymentResponse]
	if err := c.call(ctx, http.MethodGet, c.odataPath("FNCTRANS")+filterQuery("BOOKNUM", reference), nil, &list); err != nil {
		return "", err
	}
	if len(list.Value) == 0 {
		return "", nil
	}
	return list.Value[0].ID, nil
}

// CreateSupplierPayment opens a payment document and returns its number.
// When a retry finds a document already booked under p.Reference, that one is
// returned instead.
func (c *PriorityClient) CreateSupplierPayment(ctx context.Context, p SupplierPayment) (string, error) {
	var resp paymentResponse
	err := c.create(ctx, c.odataPath("FNCTRANS"), p, &resp, func(ctx context.Context) (bool, error) {
		if p.Reference == "" {
			return false, nil
		}
		id, err := c.findPayment(ctx, p.Reference)
		if err != nil || id == "" {
			return false, err
		}
		resp.ID = id
		return true, nil
	})
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("priority returned no payment document id")
	}
	return resp.ID, nil
}

func odataQuote(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}

// PayoutResult is a created external payment.
type PayoutResult struct {
	PaymentID  string
	SupplierID string
}

// PayoutGateway creates payment documents for approved withdrawals.
type PayoutGateway interface {
	Configured() bool
	ProcessWithdrawal(ctx context.Context, w *models.WithdrawalRequest, agent *models.User) (*PayoutResult, error)
}

// PriorityPayoutService pays agents as suppliers in Priority ERP.
type PriorityPayoutService struct {
	client *PriorityClient
	now    func() time.Time
}

func NewPriorityPayoutService(client *PriorityClient) *PriorityPayoutService {
	return &PriorityPayoutService{client: client, now: time.Now}
}

func (s *PriorityPayoutService) Configured() bool {
	return s != nil && s.client.Configured()
}

func (s *PriorityPayoutService) ProcessWithdrawal(ctx context.Context, w *models.WithdrawalRequest, agent *models.User) (*PayoutResult, error) {
	supplierID, err := s.syncSupplier(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("supplier sync failed: %w", err)
	}

	id := w.ID.Hex()
	payment := SupplierPayment{
		SupplierID:  supplierID,
		Amount:      w.Amount,
		Date:        s.now().UTC().Format("2006-01-02"),
		Description: "תשלום עמלה - בקשת משיכה " + id,
		Reference:   "WD-" + id,
		ExternalRef: id,
		MethodCode:  "BT",
	}
	if w.PaymentDetails != nil {
		payment.MethodCode = PaymentMethodCode(w.PaymentDetails.Method)
		payment.BankAccount = w.PaymentDetails.AccountNumber
	}

	// an earlier attempt may have booked the payment before its answer was lost
	paymentID, err := s.client.FindPayment(ctx, payment.Reference)
	if err != nil {
		return nil, fmt.Errorf("payment lookup failed: %w", err)
	}
	if paymentID != "" {
		log.Ctx(ctx).Warn().
			Str("withdrawalId", id).
			Str("paymentId", paymentID).
			Msg("Priority payment already booked for withdrawal")
		return &PayoutResult{PaymentID: paymentID, SupplierID: supplierID}, nil
	}

	paymentID, err = s.client.CreateSupplierPayment(ctx, payment)
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().
		Str("withdrawalId", id).
		Str("supplierId", supplierID).
		Str("paymentId", paymentID).
		Msg("Priority payment created")

	return &PayoutResult{PaymentID: paymentID, SupplierID: supplierID}, nil
}

func (s *PriorityPayoutService) syncSupplier(ctx context.Context, agent *models.User) (string, error) {
	if agent.PrioritySupplierID != "" {
		existing, err := s.client.FindSupplier(ctx, SupplierQuery{SupplierID: agent.PrioritySupplierID})
		if err != nil {
			return "", err
		}
		if existing != nil {
			return existing.ID, nil
		}
	}

	existing, err := s.client.FindSupplier(ctx, SupplierQuery{
		Email: agent.Email,
		Phone: agent.Phone,
		VatID: agent.VatID,
	})
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ID, nil
	}

	name := agent.FullName
	if name == "" {
		name = "סוכן"
	}
	created, err := s.client.CreateSupplier(ctx, Supplier{
		ID:    SupplierIDFor(agent),
		Name:  name,
		Email: agent.Email,
		Phone: agent.Phone,
		VatID: agent.VatID,
	})
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// SupplierIDFor derives the ERP supplier code of an agent.
func SupplierIDFor(agent *models.User) string {
	hex := agent.ID.Hex()
	return "AGT-" + strings.ToUpper(hex[len(hex)-8:])
}

// PaymentMethodCode maps a payout method to its ERP code, bank transfer by default.
func PaymentMethodCode(method string) string {
	switch method {
	case "paypal":
		return "PP"
	case "check":
		return "CK"
	default:
		return "BT"
	}
}
