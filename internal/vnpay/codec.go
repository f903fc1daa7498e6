// Package vnpay реализует протокол платёжного шлюза VNPay: построение
// подписанных платёжных ссылок и проверку подлинности обратных вызовов.
package vnpay

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Зарезервированные имена полей протокола.
const (
	// ParamPrefix — префикс всех параметров шлюза.
	ParamPrefix = "vnp_"
	// SecureHashKey — имя поля подписи; в каноническую строку не входит.
	SecureHashKey = "vnp_SecureHash"
	// secureHashTypeKey исключается из канонической строки вместе с подписью.
	secureHashTypeKey = "vnp_SecureHashType"
	// ResponseCodeSuccess — код успешной оплаты в ответе шлюза.
	ResponseCodeSuccess = "00"
)

// canonicalQuery строит детерминированную строку параметров: пары с пустыми
// значениями отбрасываются, ключи сортируются побайтово, ключ и значение
// кодируются по одному и тому же правилу percent-кодирования. Одна и та же
// строка служит и телом запроса, и входом HMAC — расхождение правил между
// подписывающей и проверяющей стороной ломает все подписи.
func canonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(params[k]))
	}
	return sb.String()
}

// hmacSHA512 вычисляет HMAC-SHA512 от data и возвращает hex в нижнем регистре.
func hmacSHA512(secret, data string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignQuery канонизирует параметры и подписывает их секретом мерчанта.
// Возвращает готовую строку запроса без поля подписи и саму подпись.
func SignQuery(params map[string]string, secret string) (query, hash string) {
	query = canonicalQuery(params)
	return query, hmacSHA512(secret, query)
}

// ValidateSignature проверяет подпись набора параметров обратного вызова.
// Поля vnp_SecureHash и vnp_SecureHashType исключаются из канонической
// строки. Сравнивается полный хеш без учёта регистра.
func ValidateSignature(params map[string]string, receivedHash, secret string) bool {
	if receivedHash == "" {
		return false
	}

	filtered := make(map[string]string, len(params))
	for k, v := range params {
		if k == SecureHashKey || k == secureHashTypeKey {
			continue
		}
		filtered[k] = v
	}

	expected := hmacSHA512(secret, canonicalQuery(filtered))
	return strings.EqualFold(expected, receivedHash)
}
