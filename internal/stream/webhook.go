package stream

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/voxpaylabs/voxpay-core/internal/config"
)

type connectVerb struct {
	Stream struct {
		URL string `xml:"url,attr"`
	} `xml:"Stream"`
}

type voiceResponse struct {
	XMLName xml.Name    `xml:"Response"`
	Connect connectVerb `xml:"Connect"`
}

// Webhook answers the provider's incoming-call request with call
// instructions that connect the call to the media stream endpoint.
type Webhook struct {
	cfg config.StreamConfig
	log *slog.Logger
}

func NewWebhook(cfg config.StreamConfig, log *slog.Logger) *Webhook {
	return &Webhook{cfg: cfg, log: log.With(slog.String("component", "webhook"))}
}

func (wh *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	streamURL := wh.streamURL(r)
	wh.log.Info("incoming call", slog.String("remote_addr", r.RemoteAddr), slog.String("stream_url", streamURL))

	var resp voiceResponse
	resp.Connect.Stream.URL = streamURL

	body, err := xml.Marshal(resp)
	if err != nil {
		wh.log.Error("failed to render call instructions", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprintf(w, "%s%s", xml.Header, body)
}

// streamURL prefers the configured public URL; behind tunnels and load
// balancers the Host header alone does not carry the externally reachable
// address.
func (wh *Webhook) streamURL(r *http.Request) string {
	if wh.cfg.PublicStreamURL != "" {
		return wh.cfg.PublicStreamURL
	}
	return fmt.Sprintf("wss://%s%s", r.Host, wh.cfg.MediaPath)
}
