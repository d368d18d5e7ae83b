// Package vnpay implements the VNPay redirect-payment protocol: building
// signed payment URLs and verifying the signatures VNPay attaches to IPN
// callbacks and browser return redirects.
//
// Field names and the hashing scheme (HMAC-SHA512 over the sorted,
// URL-encoded parameter string) must match the provider bit-for-bit.
package vnpay

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	version     = "2.1.0"
	commandPay  = "pay"
	currCode    = "VND"
	localeVN    = "vn"
	orderType   = "other"
	payPath     = "/paymentv2/vpcpay.html"
	dateLayout  = "20060102150405"
)

// VNPay timestamps are always Indochina time regardless of server locale.
var indochina = time.FixedZone("GMT+7", 7*60*60)

// Client signs requests for one merchant. Construct it once in main and
// inject it; it holds no mutable state and is safe for concurrent use.
type Client struct {
	tmnCode string
	secret  []byte
	host    string

	now func() time.Time
}

// New creates a VNPay client for the given merchant code and shared secret.
// host is the VNPay gateway base URL, e.g. https://sandbox.vnpayment.vn.
func New(tmnCode, secret, host string) *Client {
	return &Client{
		tmnCode: tmnCode,
		secret:  []byte(secret),
		host:    strings.TrimSuffix(host, "/"),
		now:     time.Now,
	}
}

// PaymentRequest carries the order attributes VNPay needs to render the
// payment page. Amount is in VND (the smallest unit); the wire format
// multiplies it by 100 per the provider contract.
type PaymentRequest struct {
	Amount    int64
	IPAddr    string
	ReturnURL string
	TxnRef    string
	OrderInfo string
	BankCode  string
	ExpireIn  time.Duration
}

// BuildPaymentURL returns the signed redirect URL for the request. No
// network call is involved; the URL is computed locally.
func (c *Client) BuildPaymentURL(req PaymentRequest) (string, error) {
	if req.TxnRef == "" {
		return "", fmt.Errorf("vnpay: txnRef is required")
	}
	if req.Amount <= 0 {
		return "", fmt.Errorf("vnpay: amount must be positive, got %d", req.Amount)
	}

	now := c.now().In(indochina)

	params := url.Values{}
	params.Set("vnp_Version", version)
	params.Set("vnp_Command", commandPay)
	params.Set("vnp_TmnCode", c.tmnCode)
	params.Set("vnp_Amount", strconv.FormatInt(req.Amount*100, 10))
	params.Set("vnp_CreateDate", now.Format(dateLayout))
	params.Set("vnp_CurrCode", currCode)
	params.Set("vnp_IpAddr", req.IPAddr)
	params.Set("vnp_Locale", localeVN)
	params.Set("vnp_OrderInfo", req.OrderInfo)
	params.Set("vnp_OrderType", orderType)
	params.Set("vnp_ReturnUrl", req.ReturnURL)
	params.Set("vnp_TxnRef", req.TxnRef)
	if req.BankCode != "" {
		params.Set("vnp_BankCode", req.BankCode)
	}
	if req.ExpireIn > 0 {
		params.Set("vnp_ExpireDate", now.Add(req.ExpireIn).Format(dateLayout))
	}

	signed := params.Encode()
	return fmt.Sprintf("%s%s?%s&vnp_SecureHash=%s", c.host, payPath, signed, c.sign(signed)), nil
}

// Verification is the outcome of checking a provider callback.
type Verification struct {
	// IsVerified reports that the signature matched the shared secret.
	IsVerified bool
	// IsSuccess reports a verified, successful payment.
	IsSuccess bool

	TxnRef            string
	Amount            int64
	ResponseCode      string
	TransactionStatus string
	TransactionNo     string
	BankCode          string
	PayDate           string
	OrderInfo         string

	// Raw preserves the full callback for audit storage.
	Raw url.Values
}

// VerifyIPN checks the authoritative server-to-server notification.
func (c *Client) VerifyIPN(params url.Values) Verification {
	return c.verify(params)
}

// VerifyReturn checks the browser return redirect. Same signature scheme as
// the IPN; callers must treat the result as advisory only.
func (c *Client) VerifyReturn(params url.Values) Verification {
	return c.verify(params)
}

func (c *Client) verify(params url.Values) Verification {
	v := Verification{
		TxnRef:            params.Get("vnp_TxnRef"),
		ResponseCode:      params.Get("vnp_ResponseCode"),
		TransactionStatus: params.Get("vnp_TransactionStatus"),
		TransactionNo:     params.Get("vnp_TransactionNo"),
		BankCode:          params.Get("vnp_BankCode"),
		PayDate:           params.Get("vnp_PayDate"),
		OrderInfo:         params.Get("vnp_OrderInfo"),
		Raw:               params,
	}

	if raw := params.Get("vnp_Amount"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			v.Amount = n / 100
		}
	}

	received := params.Get("vnp_SecureHash")
	if received == "" {
		return v
	}

	unsigned := url.Values{}
	for key, vals := range params {
		if key == "vnp_SecureHash" || key == "vnp_SecureHashType" {
			continue
		}
		for _, val := range vals {
			if val != "" {
				unsigned.Add(key, val)
			}
		}
	}

	expected := c.sign(unsigned.Encode())
	v.IsVerified = hmac.Equal([]byte(strings.ToLower(received)), []byte(expected))

	// vnp_TransactionStatus is absent from some sandbox callbacks; when
	// present it must agree with the response code.
	v.IsSuccess = v.IsVerified &&
		v.ResponseCode == "00" &&
		(v.TransactionStatus == "" || v.TransactionStatus == "00")

	return v
}

func (c *Client) sign(data string) string {
	mac := hmac.New(sha512.New, c.secret)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}
