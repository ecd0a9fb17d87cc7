// Package notify posts pipeline run outcomes to an operator chat webhook
// (§6 configuration: "an optional chat-webhook URL for run notifications").
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/landregistry/inspire-reconciler/internal/errors"
	"github.com/landregistry/inspire-reconciler/internal/logging"
)

// Notifier posts run outcomes to a chat webhook. A zero-value webhookURL
// disables every method, matching the "optional" configuration in §6.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// New creates a Notifier; webhookURL == "" makes every call a silent no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type chatMessage struct {
	Text string `json:"text"`
}

// NotifyFailure posts a single notification for any non-transient run
// error; transient errors (network blips the pipeline will simply retry on
// the next resume) are not worth paging anyone over.
func (n *Notifier) NotifyFailure(ctx context.Context, runKey string, task string, err error) {
	if n.webhookURL == "" || err == nil {
		return
	}
	if errors.GetType(err) == errors.ErrorTypeTransient {
		return
	}
	text := fmt.Sprintf("INSPIRE pipeline run %s failed during %s: %s", runKey, task, err.Error())
	n.post(ctx, text)
}

// MatchTypeCounts tallies pending-row outcomes by classifier tag, used for
// the completion summary table (§6, §9 recordStats).
type MatchTypeCounts map[string]int

// NotifyCompletion posts a summary table of match-type counts on successful
// pipeline completion.
func (n *Notifier) NotifyCompletion(ctx context.Context, runKey string, counts MatchTypeCounts) {
	if n.webhookURL == "" {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "INSPIRE pipeline run %s completed\n", runKey)

	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		fmt.Fprintf(&b, "%-20s %d\n", tag, counts[tag])
	}
	n.post(ctx, b.String())
}

func (n *Notifier) post(ctx context.Context, text string) {
	body, err := json.Marshal(chatMessage{Text: text})
	if err != nil {
		logging.Warn("failed to marshal webhook notification", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		logging.Warn("failed to build webhook request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		logging.Warn("failed to post webhook notification", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		logging.Warn("webhook notification rejected", "status", resp.StatusCode)
	}
}
