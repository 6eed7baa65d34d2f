package shipping

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/recon/internal/domain"
)

var _ domain.CarrierTracker = (*CarrierClient)(nil)

const defaultCarrierTimeout = 10 * time.Second

// CarrierClient — HTTP-клиент API перевозчика для запроса событий трекинга.
type CarrierClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *log.Entry
}

// NewCarrierClient создаёт клиент перевозчика.
func NewCarrierClient(baseURL, apiKey string, logger *log.Entry) *CarrierClient {
	if logger == nil {
		logger = log.WithField("component", "carrier-client")
	}
	return &CarrierClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultCarrierTimeout},
		logger:     logger,
	}
}

// Track возвращает события трекинга по коду отправления, последние первыми.
func (c *CarrierClient) Track(ctx context.Context, code string) ([]domain.TrackingEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tracking/"+url.PathEscape(code), nil)
	if err != nil {
		return nil, fmt.Errorf("build tracking request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call carrier: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read carrier response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("track %s: unexpected status %d", code, resp.StatusCode)
	}

	var body struct {
		Events []struct {
			Description string    `json:"description"`
			At          time.Time `json:"at"`
		} `json:"events"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode tracking events: %w", err)
	}

	events := make([]domain.TrackingEvent, 0, len(body.Events))
	for _, e := range body.Events {
		events = append(events, domain.TrackingEvent{Description: e.Description, At: e.At})
	}
	return events, nil
}
