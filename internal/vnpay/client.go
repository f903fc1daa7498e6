package vnpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// QueryClient инкапсулирует обращение к API шлюза для выяснения судьбы
// транзакции, по которой не пришёл обратный вызов.
type QueryClient struct {
	apiURL     string
	settings   Settings
	httpClient *retryablehttp.Client
	now        func() time.Time
}

// TxnStatus описывает ответ шлюза о состоянии транзакции.
type TxnStatus struct {
	TxnRef            string `json:"vnp_TxnRef"`
	ResponseCode      string `json:"vnp_ResponseCode"`
	TransactionStatus string `json:"vnp_TransactionStatus"`
	Amount            string `json:"vnp_Amount"`
}

// Paid сообщает, что шлюз считает транзакцию успешно оплаченной.
func (s *TxnStatus) Paid() bool {
	return s.ResponseCode == ResponseCodeSuccess && s.TransactionStatus == ResponseCodeSuccess
}

// AmountCents возвращает сумму транзакции из ответа шлюза.
func (s *TxnStatus) AmountCents() (int64, error) {
	return strconv.ParseInt(s.Amount, 10, 64)
}

// NewQueryClient создаёт клиент API шлюза. Шлюз отвечает нестабильно,
// поэтому запросы выполняются с повторами.
func NewQueryClient(apiURL string, settings Settings) *QueryClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 3 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &QueryClient{
		apiURL:     strings.TrimRight(apiURL, "/"),
		settings:   settings,
		httpClient: rc,
		now:        time.Now,
	}
}

// TransactionStatus запрашивает у шлюза состояние транзакции txnRef,
// созданной в момент createdAt. Запрос подписывается тем же секретом,
// что и платёжные ссылки.
func (c *QueryClient) TransactionStatus(ctx context.Context, txnRef string, createdAt time.Time) (*TxnStatus, error) {
	if c == nil || c.apiURL == "" {
		return nil, fmt.Errorf("gateway query client not configured")
	}

	now := c.now().In(gatewayZone)
	params := map[string]string{
		"vnp_RequestId":       txnRef + now.Format(timeLayout),
		"vnp_Version":         "2.1.0",
		"vnp_Command":         "querydr",
		"vnp_TmnCode":         c.settings.TmnCode,
		"vnp_TxnRef":          txnRef,
		"vnp_OrderInfo":       "query transaction " + txnRef,
		"vnp_TransactionDate": createdAt.In(gatewayZone).Format(timeLayout),
		"vnp_CreateDate":      now.Format(timeLayout),
		"vnp_IpAddr":          "127.0.0.1",
	}

	_, hash := SignQuery(params, c.settings.HashSecret)
	params[SecureHashKey] = hash

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal query request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result TxnStatus
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &result, nil
}
