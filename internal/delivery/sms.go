package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth/pkg/utilities"
)

// HTTPSMS posts messages to an SMS provider's JSON API:
//
//	POST {baseURL}/send
//	Authorization: Bearer {apiKey}
//	{"phone": "+7...", "message": "..."}
type HTTPSMS struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.SugaredLogger
}

func NewHTTPSMS(baseURL, apiKey string, timeout time.Duration, logger *zap.SugaredLogger) *HTTPSMS {
	return &HTTPSMS{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type smsRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

func (s *HTTPSMS) Send(ctx context.Context, phone, body string) bool {
	payload, err := json.Marshal(smsRequest{Phone: phone, Message: body})
	if err != nil {
		s.logger.Errorw("sms encode failed", "err", err)
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/send", bytes.NewReader(payload))
	if err != nil {
		s.logger.Errorw("sms request build failed", "err", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warnw("sms send failed", "phone", utilities.MaskPhone(phone), "err", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Warnw("sms provider rejected message", "phone", utilities.MaskPhone(phone), "status", resp.StatusCode)
		return false
	}
	s.logger.Debugw("sms sent", "phone", utilities.MaskPhone(phone))
	return true
}
