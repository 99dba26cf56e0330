package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Labels are the descriptive fields a classifier can suggest for a shoe
// photo. The service only uses them to pre-fill fields the operator left
// blank; they never overwrite explicit input.
type Labels struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// Classifier turns a product photo into suggested labels. Implementations
// must respect the context deadline; classification is a best-effort
// enrichment and callers will not wait long for it.
type Classifier interface {
	Classify(ctx context.Context, imageBase64 string) (Labels, error)
}

type Noop struct{}

func (Noop) Classify(_ context.Context, _ string) (Labels, error) {
	return Labels{}, nil
}

// HTTPClassifier calls an external image classification endpoint.
type HTTPClassifier struct {
	endpoint string
	client   *http.Client
}

func NewHTTPClassifier(endpoint string) *HTTPClassifier {
	return &HTTPClassifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *HTTPClassifier) Classify(ctx context.Context, imageBase64 string) (Labels, error) {
	payload, err := json.Marshal(map[string]string{"image_base64": imageBase64})
	if err != nil {
		return Labels{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Labels{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Labels{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Labels{}, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var labels Labels
	if err := json.NewDecoder(resp.Body).Decode(&labels); err != nil {
		return Labels{}, err
	}
	return labels, nil
}
