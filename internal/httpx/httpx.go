package httpx

import (
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"resty.dev/v3"
)

// Options configures the shared upstream client.
type Options struct {
	Timeout          time.Duration
	UserAgent        string
	RetryCount       int
	RetryWaitTime    time.Duration
	RetryMaxWaitTime time.Duration
	Logger           *zap.Logger
}

const (
	defaultTimeout       = 8 * time.Second
	defaultUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120 Safari/537.36"
	defaultRetryWait     = 250 * time.Millisecond
	defaultRetryMaxWait  = 2 * time.Second
	maxErrorBodyInStatus = 200
)

// New builds a resty client with a tuned transport, a browser user agent
// (several public quote endpoints reject bare clients) and retries on
// transport errors, 408, 429 and 5xx. The client keeps no cookie jar:
// upstream sessions are explicit values owned by the caller.
func New(opts Options) *resty.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.RetryWaitTime <= 0 {
		opts.RetryWaitTime = defaultRetryWait
	}
	if opts.RetryMaxWaitTime <= 0 {
		opts.RetryMaxWaitTime = defaultRetryMaxWait
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       50,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
	}

	return resty.New().
		SetTransport(transport).
		SetCookieJar(nil).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(opts.RetryWaitTime).
		SetRetryMaxWaitTime(opts.RetryMaxWaitTime).
		AddRetryConditions(retryCondition).
		AddRetryHooks(retryHook(log))
}

func retryCondition(r *resty.Response, err error) bool {
	if err != nil || r == nil {
		return true
	}
	switch code := r.StatusCode(); {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	}
	return false
}

func retryHook(log *zap.Logger) func(*resty.Response, error) {
	return func(r *resty.Response, err error) {
		var fields []zap.Field
		if r != nil && r.Request != nil {
			fields = append(fields, zap.Any("url", r.Request.URL), zap.Any("attempt", r.Request.Attempt))
		}
		if err != nil {
			log.Debug("retrying upstream request", append(fields, zap.Error(err))...)
			return
		}
		if r != nil {
			fields = append(fields, zap.Int("status_code", r.StatusCode()))
		}
		log.Debug("retrying upstream request", fields...)
	}
}
