package engines

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/deckcast/internal/speech"
)

// DefaultXunfeiEndpoint is the public streaming synthesis endpoint.
const DefaultXunfeiEndpoint = "wss://tts-api.xfyun.cn/v2/tts"

// XunfeiConfig holds credentials and voice settings.
type XunfeiConfig struct {
	Endpoint  string
	AppID     string
	APIKey    string
	APISecret string

	// Voice name (vcn), defaults to "xiaoyan".
	Voice string
	// Speed, volume and pitch on the service's 0-100 scale, default 50.
	Speed  int
	Volume int
	Pitch  int

	RequestsPerMinute int
}

// XunfeiEngine streams synthesized MP3 frames from the service.
type XunfeiEngine struct {
	cfg     XunfeiConfig
	limiter *rate.Limiter
	dialer  *websocket.Dialer
	now     func() time.Time
}

type xunfeiRequest struct {
	Common struct {
		AppID string `json:"app_id"`
	} `json:"common"`
	Business struct {
		Aue    string `json:"aue"`
		Sfl    int    `json:"sfl"`
		Auf    string `json:"auf"`
		Vcn    string `json:"vcn"`
		Speed  int    `json:"speed"`
		Volume int    `json:"volume"`
		Pitch  int    `json:"pitch"`
		Bgs    int    `json:"bgs"`
		Tte    string `json:"tte"`
	} `json:"business"`
	Data struct {
		Status int    `json:"status"`
		Text   string `json:"text"`
	} `json:"data"`
}

type xunfeiFrame struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Sid     string `json:"sid"`
	Data    *struct {
		Audio  string `json:"audio"`
		Status int    `json:"status"`
	} `json:"data"`
}

// NewXunfeiEngine validates credentials and applies defaults.
func NewXunfeiEngine(cfg XunfeiConfig) (*XunfeiEngine, error) {
	if cfg.AppID == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("xunfei: app id, api key and api secret are required: %w", speech.ErrUnavailable)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultXunfeiEndpoint
	}
	if cfg.Voice == "" {
		cfg.Voice = "xiaoyan"
	}
	if cfg.Speed == 0 {
		cfg.Speed = 50
	}
	if cfg.Volume == 0 {
		cfg.Volume = 50
	}
	if cfg.Pitch == 0 {
		cfg.Pitch = 50
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}

	return &XunfeiEngine{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		dialer:  &websocket.Dialer{HandshakeTimeout: 5 * time.Second, Proxy: websocket.DefaultDialer.Proxy},
		now:     time.Now,
	}, nil
}

// Synthesize implements speech.Backend.
func (e *XunfeiEngine) Synthesize(ctx context.Context, text, outputPath string) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("xunfei: rate limit wait: %w", err)
	}

	signed, err := e.signedURL()
	if err != nil {
		return err
	}

	conn, resp, err := e.dialer.DialContext(ctx, signed, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("xunfei: handshake failed with HTTP %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("xunfei: dial: %w", err)
	}
	defer conn.Close()

	// Unblock reads when the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	}

	if err := conn.WriteJSON(e.request(text)); err != nil {
		return fmt.Errorf("xunfei: send request: %w", err)
	}

	var audio []byte
	for {
		var frame xunfeiFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("xunfei: read frame: %w", err)
		}
		if frame.Code != 0 {
			return fmt.Errorf("xunfei: service error %d: %s (sid %s)", frame.Code, frame.Message, frame.Sid)
		}
		if frame.Data == nil {
			continue
		}
		chunk, err := base64.StdEncoding.DecodeString(frame.Data.Audio)
		if err != nil {
			return fmt.Errorf("xunfei: decode audio: %w", err)
		}
		audio = append(audio, chunk...)
		if frame.Data.Status == 2 {
			break
		}
	}

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	if len(audio) == 0 {
		return errors.New("xunfei: service returned no audio")
	}
	if err := os.WriteFile(outputPath, audio, 0o644); err != nil {
		return fmt.Errorf("xunfei: write audio: %w", err)
	}
	return nil
}

// Validate implements speech.Validator. Credentials were checked at
// construction, so only the endpoint is verified here.
func (e *XunfeiEngine) Validate(context.Context) error {
	_, err := url.Parse(e.cfg.Endpoint)
	return err
}

func (e *XunfeiEngine) request(text string) xunfeiRequest {
	var req xunfeiRequest
	req.Common.AppID = e.cfg.AppID
	req.Business.Aue = "lame"
	req.Business.Sfl = 1
	req.Business.Auf = "audio/L16;rate=16000"
	req.Business.Vcn = e.cfg.Voice
	req.Business.Speed = e.cfg.Speed
	req.Business.Volume = e.cfg.Volume
	req.Business.Pitch = e.cfg.Pitch
	req.Business.Tte = "UTF8"
	req.Data.Status = 2
	req.Data.Text = base64.StdEncoding.EncodeToString([]byte(text))
	return req
}

// signedURL adds the HMAC-SHA256 authorization query the service expects.
func (e *XunfeiEngine) signedURL() (string, error) {
	u, err := url.Parse(e.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("xunfei: endpoint: %w", err)
	}
	date := e.now().UTC().Format(http.TimeFormat)

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	origin := fmt.Sprintf("host: %s\ndate: %s\nGET %s HTTP/1.1", u.Host, date, path)

	mac := hmac.New(sha256.New, []byte(e.cfg.APISecret))
	mac.Write([]byte(origin))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	auth := fmt.Sprintf(`api_key="%s", algorithm="hmac-sha256", headers="host date request-line", signature="%s"`,
		e.cfg.APIKey, signature)

	q := u.Query()
	q.Set("authorization", base64.StdEncoding.EncodeToString([]byte(auth)))
	q.Set("date", date)
	q.Set("host", u.Host)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

var (
	_ speech.Backend   = (*XunfeiEngine)(nil)
	_ speech.Validator = (*XunfeiEngine)(nil)
)
