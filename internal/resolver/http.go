package resolver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	apperrors "intent-trader/internal/errors"
	"intent-trader/internal/models"
)

// HTTPResolver delegates resolution to a remote service that speaks the
// Request/Response JSON shapes of this package.
type HTTPResolver struct {
	client *resty.Client
	rate   CostRate
	logger zerolog.Logger
}

// NewHTTPResolver creates a resolver for endpoint. token, when set, is sent
// as a bearer token.
func NewHTTPResolver(endpoint, token string, rate CostRate, logger zerolog.Logger) *HTTPResolver {
	client := resty.New()
	client.SetBaseURL(endpoint)
	client.SetTimeout(30 * time.Second)
	client.SetHeader("Content-Type", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &HTTPResolver{
		client: client,
		rate:   rate,
		logger: logger.With().Str("component", "resolver").Str("provider", "http").Logger(),
	}
}

func (h *HTTPResolver) Name() string             { return "http" }
func (h *HTTPResolver) CostPerKTokens() CostRate { return h.rate }

type remoteError struct {
	Error string `json:"error"`
}

func (h *HTTPResolver) Resolve(ctx context.Context, req Request) (*Response, error) {
	var out Response
	var remoteErr remoteError
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&remoteErr).
		Post("/resolve")
	if err != nil {
		return nil, apperrors.NewResolverError(h.Name(), "resolve", err)
	}
	if resp.IsError() {
		msg := remoteErr.Error
		if msg == "" {
			msg = resp.String()
		}
		return nil, apperrors.NewResolverError(h.Name(), "resolve", fmt.Errorf("status %d: %s", resp.StatusCode(), msg))
	}
	if len(out.Data) == 0 {
		return nil, apperrors.Wrap(apperrors.ErrResolutionFailed, "remote resolver returned no data")
	}
	out.Confidence = models.ClampConfidence(out.Confidence)
	if _, ok := out.Data[models.KeyConfidence]; !ok {
		out.Data[models.KeyConfidence] = out.Confidence
	}
	h.logger.Debug().Str("request_id", req.ID).Str("model", out.Model).Float64("confidence", out.Confidence).Msg("remote resolution")
	return &out, nil
}

func (h *HTTPResolver) Health(ctx context.Context) (bool, error) {
	resp, err := h.client.R().SetContext(ctx).Get("/health")
	if err != nil {
		return false, apperrors.NewResolverError(h.Name(), "health", err)
	}
	return resp.StatusCode() == http.StatusOK, nil
}
