package vnpay

import (
	"errors"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"
)

// ErrMalformedCallback возвращается, если в обратном вызове нет обязательных
// полей. Это ошибка валидации, а не подписи: различие важно для логов.
var ErrMalformedCallback = errors.New("malformed gateway callback")

// ErrNonPositiveAmount возвращается при попытке создать платёж на
// неположительную сумму.
var ErrNonPositiveAmount = errors.New("payment amount must be positive")

// paymentTTL — срок жизни платёжной ссылки, отсчитывается от времени создания.
const paymentTTL = 15 * time.Minute

// timeLayout — формат времени шлюза (yyyyMMddHHmmss).
const timeLayout = "20060102150405"

// gatewayZone — часовой пояс шлюза (UTC+7). FixedZone вместо базы tzdata:
// смещение у шлюза не меняется, а контейнеры без tzdata встречаются.
var gatewayZone = time.FixedZone("ICT", 7*60*60)

// Settings содержит реквизиты мерчанта для платёжного шлюза.
type Settings struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
	APIURL     string
}

// PaymentRequest описывает параметры создания платёжной ссылки.
// AmountCents — сумма в сотых долях: на проводе шлюз ожидает сумму,
// умноженную на 100, то есть ровно это значение.
type PaymentRequest struct {
	AmountCents int64
	OrderInfo   string
	OrderType   string
	Locale      string
	ClientIP    string
}

// PaymentLink описывает созданную платёжную ссылку.
type PaymentLink struct {
	URL       string
	TxnRef    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// CallbackResult содержит разобранный результат обратного вызова шлюза.
// При SignatureValid == false полю ResponseCode доверять нельзя:
// отрицательный вердикт подписи первичен.
type CallbackResult struct {
	Success        bool
	SignatureValid bool
	TxnRef         string
	AmountCents    int64
	ResponseCode   string
}

// Gateway строит платёжные ссылки и разбирает обратные вызовы шлюза.
type Gateway struct {
	settings Settings
	now      func() time.Time
	lastRef  atomic.Int64
}

// NewGateway создаёт адаптер шлюза с указанными реквизитами мерчанта.
func NewGateway(settings Settings) *Gateway {
	return &Gateway{
		settings: settings,
		now:      time.Now,
	}
}

// nextTxnRef выдаёт уникальную ссылку транзакции из монотонно растущего
// значения часов. Два вызова в один наносекундный тик получают разные ссылки.
func (g *Gateway) nextTxnRef() string {
	for {
		last := g.lastRef.Load()
		ref := g.now().UnixNano()
		if ref <= last {
			ref = last + 1
		}
		if g.lastRef.CompareAndSwap(last, ref) {
			return strconv.FormatInt(ref, 10)
		}
	}
}

// BuildPaymentURL строит подписанную ссылку на страницу оплаты.
// Ссылка транзакции уникальна; время создания и истечения передаются
// во времени шлюза.
func (g *Gateway) BuildPaymentURL(req PaymentRequest) (*PaymentLink, error) {
	if req.AmountCents <= 0 {
		return nil, ErrNonPositiveAmount
	}

	now := g.now()
	nowGW := now.In(gatewayZone)
	expires := nowGW.Add(paymentTTL)
	txnRef := g.nextTxnRef()

	locale := req.Locale
	if locale == "" {
		locale = "vn"
	}
	orderType := req.OrderType
	if orderType == "" {
		orderType = "other"
	}
	clientIP := req.ClientIP
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}

	params := map[string]string{
		"vnp_Version":    "2.1.0",
		"vnp_Command":    "pay",
		"vnp_TmnCode":    g.settings.TmnCode,
		"vnp_Amount":     strconv.FormatInt(req.AmountCents, 10),
		"vnp_CurrCode":   "VND",
		"vnp_TxnRef":     txnRef,
		"vnp_OrderInfo":  req.OrderInfo,
		"vnp_OrderType":  orderType,
		"vnp_Locale":     locale,
		"vnp_ReturnUrl":  g.settings.ReturnURL,
		"vnp_IpAddr":     clientIP,
		"vnp_CreateDate": nowGW.Format(timeLayout),
		"vnp_ExpireDate": expires.Format(timeLayout),
	}

	query, hash := SignQuery(params, g.settings.HashSecret)

	return &PaymentLink{
		URL:       g.settings.PayURL + "?" + query + "&" + SecureHashKey + "=" + hash,
		TxnRef:    txnRef,
		CreatedAt: now,
		ExpiresAt: now.Add(paymentTTL),
	}, nil
}

// ParseCallback разбирает параметры обратного вызова и выносит вердикт.
// Отсутствие обязательных полей — ошибка валидации (ErrMalformedCallback).
// Успех требует и корректной подписи, и кода ответа "00"; сверка суммы
// с сохранённым ордером выполняется отдельным шагом при активации.
func (g *Gateway) ParseCallback(values url.Values) (*CallbackResult, error) {
	params := make(map[string]string)
	for k := range values {
		if len(k) >= len(ParamPrefix) && k[:len(ParamPrefix)] == ParamPrefix {
			params[k] = values.Get(k)
		}
	}

	txnRef := params["vnp_TxnRef"]
	amountRaw := params["vnp_Amount"]
	responseCode := params["vnp_ResponseCode"]
	if txnRef == "" || amountRaw == "" || responseCode == "" {
		return nil, ErrMalformedCallback
	}

	amount, err := strconv.ParseInt(amountRaw, 10, 64)
	if err != nil || amount < 0 {
		return nil, ErrMalformedCallback
	}

	valid := ValidateSignature(params, values.Get(SecureHashKey), g.settings.HashSecret)

	return &CallbackResult{
		Success:        valid && responseCode == ResponseCodeSuccess,
		SignatureValid: valid,
		TxnRef:         txnRef,
		AmountCents:    amount,
		ResponseCode:   responseCode,
	}, nil
}
