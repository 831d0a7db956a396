package intake

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/blnkfinance/intake/config"
	"github.com/blnkfinance/intake/internal/request"
	"github.com/sirupsen/logrus"
)

// AnalysisResult is the structured answer of a remote analysis function.
type AnalysisResult struct {
	Success bool                   `json:"success"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// AnalysisClient calls named remote analysis functions over HTTP.
type AnalysisClient struct {
	baseURL string
	headers map[string]string
	client  *http.Client
	retrier *Retrier
}

// NewAnalysisClient returns nil when no analysis URL is configured.
func NewAnalysisClient(cfg config.AnalysisConfig, retrier *Retrier) *AnalysisClient {
	if cfg.Url == "" {
		return nil
	}
	return &AnalysisClient{
		baseURL: strings.TrimRight(cfg.Url, "/"),
		headers: cfg.Headers,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		retrier: retrier,
	}
}

// Invoke posts body as JSON to <url>/<functionName>. Server errors and
// network failures are retried; client errors are not. A reply with
// success=false is returned as an error carrying the remote message.
func (a *AnalysisClient) Invoke(ctx context.Context, functionName string, body interface{}) (*AnalysisResult, error) {
	result, err := RetryValue(ctx, a.retrier, "invoke "+functionName, func(ctx context.Context) (*AnalysisResult, error) {
		payload, err := request.ToJsonReq(body)
		if err != nil {
			return nil, permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/"+functionName, payload)
		if err != nil {
			return nil, permanent(err)
		}
		for k, v := range a.headers {
			req.Header.Set(k, v)
		}

		var res AnalysisResult
		if _, err := request.CallWithClient(a.client, req, &res); err != nil {
			return nil, permanent(err)
		}
		return &res, nil
	})
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return result, fmt.Errorf("analysis %s failed: %s", functionName, result.Error)
	}
	return result, nil
}

// classifyPayment asks the remote classifier for a payment type. Any
// failure leaves the type empty.
func (a *AnalysisClient) classifyPayment(ctx context.Context, values map[string]string) string {
	if a == nil {
		return ""
	}

	res, err := a.Invoke(ctx, "classify-payment", map[string]string{
		"description":    values[ColPaymentDescription],
		"amount":         values[ColAmount],
		"payment_method": values[ColPaymentMethod],
	})
	if err != nil {
		logrus.WithError(err).Warn("payment classification failed")
		return ""
	}
	paymentType, _ := res.Payload["type"].(string)
	return strings.TrimSpace(paymentType)
}
