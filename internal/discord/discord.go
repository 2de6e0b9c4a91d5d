// Package discord implements the bounded fire-and-forget Discord webhook
// notifier named in spec.md §4.8/§9, grounded on the webhook-embed shape
// of HoNfigurator-Portal-energizer's internal/connector.DiscordConnector
// (sendWebhook), trimmed to the one-shot notification case kage needs.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxInFlight = 5

// Notifier posts lobby-join and room-create events to a Discord webhook.
// Sends never block the caller: each LobbyJoined/RoomCreated call either claims one of
// maxInFlight worker slots or is dropped, per spec.md §4.8's "excess is
// silently dropped".
type Notifier struct {
	webhookURL string
	client     *http.Client
	log        zerolog.Logger

	slots chan struct{}
}

// New returns a Notifier posting to webhookURL. If webhookURL is empty
// the returned Notifier silently drops every call, so callers can always
// construct one and never branch on whether Discord is configured.
func New(webhookURL string, log zerolog.Logger) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		log:        log,
		slots:      make(chan struct{}, maxInFlight),
	}
}

// LobbyJoined implements lobby.Notifier.
func (n *Notifier) LobbyJoined(lobbyName, playerName string) {
	n.notify(fmt.Sprintf("%s joined lobby %s", playerName, lobbyName), 0x2ECC71)
}

// RoomCreated implements lobby.Notifier.
func (n *Notifier) RoomCreated(lobbyName, roomName, ownerName string) {
	n.notify(fmt.Sprintf("%s created room %q in %s", ownerName, roomName, lobbyName), 0x3498DB)
}

func (n *Notifier) notify(description string, color int) {
	if n.webhookURL == "" {
		return
	}

	select {
	case n.slots <- struct{}{}:
	default:
		n.log.Warn().Msg("discord: in-flight notification limit reached, dropping")
		return
	}

	go n.send(description, color)
}

func (n *Notifier) send(description string, color int) {
	defer func() { <-n.slots }()

	payload := map[string]any{
		"embeds": []map[string]any{
			{
				"description": description,
				"color":       color,
				"timestamp":   time.Now().Format(time.RFC3339),
				"footer":      map[string]string{"text": uuid.NewString()},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.log.Error().Err(err).Msg("discord: marshal failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		n.log.Error().Err(err).Msg("discord: request build failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn().Err(err).Msg("discord: webhook send failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		n.log.Warn().Int("status", resp.StatusCode).Msg("discord: webhook returned error status")
	}
}
