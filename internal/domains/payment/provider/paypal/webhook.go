package paypal

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"payment-service/internal/domains/payment/model"
	"payment-service/internal/domains/payment/provider"
	"payment-service/pkg/logger"
)

// =====================================================
// WEBHOOK VERIFICATION
// =====================================================

// PayPal signs webhook deliveries with an RSA key whose certificate is
// served from a paypal.com URL named in the headers. The signed message is
//
//	transmissionId|transmissionTime|webhookId|sha256(body)
//
// with the body hash hex encoded.

const (
	headerTransmissionID   = "Paypal-Transmission-Id"
	headerTransmissionTime = "Paypal-Transmission-Time"
	headerTransmissionSig  = "Paypal-Transmission-Sig"
	headerCertURL          = "Paypal-Cert-Url"
	headerAuthAlgo         = "Paypal-Auth-Algo"

	authAlgoSHA256RSA = "SHA256withRSA"
)

var errUntrustedCertHost = errors.New("certificate URL host is not paypal.com")

// VerifyWebhook checks the transmission signature over the raw body. Any
// missing header, untrusted cert host, or signature mismatch fails closed.
func (a *Adapter) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) bool {
	transmissionID := headers.Get(headerTransmissionID)
	transmissionTime := headers.Get(headerTransmissionTime)
	signature := headers.Get(headerTransmissionSig)
	certURL := headers.Get(headerCertURL)
	authAlgo := headers.Get(headerAuthAlgo)

	if transmissionID == "" || transmissionTime == "" || signature == "" || certURL == "" {
		return false
	}
	if authAlgo != authAlgoSHA256RSA {
		logger.Info("paypal webhook rejected: unexpected auth algo", map[string]interface{}{
			"auth_algo": authAlgo,
		})
		return false
	}

	cert, err := a.signingCert(ctx, certURL)
	if err != nil {
		logger.Error("paypal webhook cert fetch failed", err)
		return false
	}

	bodyHash := sha256.Sum256(payload)
	expected := fmt.Sprintf("%s|%s|%s|%s",
		transmissionID, transmissionTime, a.config.WebhookID, hex.EncodeToString(bodyHash[:]))

	sigBytes, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	if err := cert.CheckSignature(x509.SHA256WithRSA, []byte(expected), sigBytes); err != nil {
		logger.Error("paypal webhook signature mismatch", err)
		return false
	}
	return true
}

// signingCert returns the leaf certificate behind certURL, fetching it at
// most once per cache window.
func (a *Adapter) signingCert(ctx context.Context, certURL string) (*x509.Certificate, error) {
	if cached, ok := a.certCache.Get(model.CacheKeyPayPalCert + certURL); ok {
		return cached.(*x509.Certificate), nil
	}

	parsed, err := url.Parse(certURL)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "https" || !strings.HasSuffix(parsed.Hostname(), ".paypal.com") {
		return nil, errUntrustedCertHost
	}

	resp, err := a.http.R().SetContext(ctx).Get(certURL)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("certificate fetch returned status %d", resp.StatusCode())
	}

	block, _ := pem.Decode(resp.Body())
	if block == nil {
		return nil, errors.New("certificate response is not PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return nil, errors.New("certificate outside validity window")
	}

	a.certCache.Set(model.CacheKeyPayPalCert+certURL, cert, model.PayPalCertTTL)
	return cert, nil
}

// =====================================================
// EVENT NORMALIZATION
// =====================================================

// ParseWebhookEvent extracts normalized fields from a PayPal event. Capture
// events carry the capture ID as the resource; the originating order ID
// rides along in supplementary_data.
func (a *Adapter) ParseWebhookEvent(payload []byte) (*provider.WebhookEvent, error) {
	var event struct {
		ID         string `json:"id"`
		EventType  string `json:"event_type"`
		CreateTime string `json:"create_time"`
		Resource   struct {
			ID                string `json:"id"`
			SupplementaryData struct {
				RelatedIDs struct {
					OrderID string `json:"order_id"`
				} `json:"related_ids"`
			} `json:"supplementary_data"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}

	evt := &provider.WebhookEvent{
		EventID:   event.ID,
		EventType: event.EventType,
	}
	if ts, err := time.Parse(time.RFC3339, event.CreateTime); err == nil {
		evt.OccurredAt = ts.UTC()
	} else {
		evt.OccurredAt = time.Now().UTC()
	}

	if strings.HasPrefix(event.EventType, "PAYMENT.CAPTURE.") {
		evt.ProviderPaymentID = event.Resource.ID
		evt.ProviderOrderID = event.Resource.SupplementaryData.RelatedIDs.OrderID
	} else {
		evt.ProviderOrderID = event.Resource.ID
	}
	return evt, nil
}
