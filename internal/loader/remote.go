package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"
)

// ObjectGetter is the subset of the S3 client used for s3:// sources.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Blob is the raw content of a remote source.
type Blob struct {
	Data        []byte
	ContentType string
	Name        string
}

// Fetcher retrieves remote sources over HTTP(S) or from S3.
type Fetcher struct {
	HTTP        *http.Client
	Limiter     *rate.Limiter
	S3          ObjectGetter
	UserAgent   string
	MaxRetries  int
	BackoffBase time.Duration
	Log         *slog.Logger
}

// NewFetcher returns a Fetcher with a bounded HTTP timeout. A positive rps
// throttles outbound requests.
func NewFetcher(timeout time.Duration, rps float64, log *slog.Logger) *Fetcher {
	f := &Fetcher{
		HTTP:        &http.Client{Timeout: timeout},
		UserAgent:   "docflow/1.0",
		MaxRetries:  MaxRetries,
		BackoffBase: time.Second,
		Log:         log,
	}
	if rps > 0 {
		f.Limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return f
}

// NewS3Client builds an S3 client from the default AWS credential chain.
func NewS3Client(ctx context.Context) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// Fetch retrieves location, enforcing maxBytes (0 means unlimited).
func (f *Fetcher) Fetch(ctx context.Context, location string, maxBytes int64) (*Blob, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, loadErr(Unreadable, location, fmt.Errorf("parse url: %w", err))
	}

	switch u.Scheme {
	case "http", "https":
		return f.fetchHTTP(ctx, u, maxBytes)
	case "s3":
		return f.fetchS3(ctx, u, maxBytes)
	default:
		return nil, loadErr(Unsupported, location, fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, u *url.URL, maxBytes int64) (*Blob, error) {
	log := f.logger().With("url", u.Redacted())
	location := u.String()

	maxRetries := f.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := range maxRetries {
		if f.Limiter != nil {
			if err := f.Limiter.Wait(ctx); err != nil {
				return nil, loadErr(Unreadable, location, err)
			}
		}

		blob, err := f.getHTTP(ctx, u, maxBytes)
		if err == nil {
			return blob, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == maxRetries-1 {
			break
		}

		log.Warn("retryable fetch error", "attempt", attempt, "error", err)
		select {
		case <-time.After(Backoff(f.BackoffBase, attempt)):
		case <-ctx.Done():
			return nil, loadErr(Unreadable, location, ctx.Err())
		}
	}

	var le *LoadError
	if errors.As(lastErr, &le) {
		return nil, le
	}
	return nil, loadErr(Unreadable, location, lastErr)
}

func (f *Fetcher) getHTTP(ctx context.Context, u *url.URL, maxBytes int64) (*Blob, error) {
	location := u.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, loadErr(Unreadable, location, fmt.Errorf("create request: %w", err))
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	client := f.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, loadErr(Unreadable, location, ctx.Err())
		}
		return nil, &RetryableError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, loadErr(NotFound, location, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &RetryableError{StatusCode: resp.StatusCode, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, loadErr(Unreadable, location, fmt.Errorf("status %d", resp.StatusCode))
	}

	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, loadErr(TooLarge, location, fmt.Errorf("content length %d exceeds %d", resp.ContentLength, maxBytes))
	}

	data, err := readLimited(resp.Body, maxBytes)
	if err != nil {
		if errors.Is(err, errTooLarge) {
			return nil, loadErr(TooLarge, location, err)
		}
		return nil, loadErr(Unreadable, location, fmt.Errorf("read body: %w", err))
	}

	return &Blob{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		Name:        path.Base(u.Path),
	}, nil
}

func (f *Fetcher) fetchS3(ctx context.Context, u *url.URL, maxBytes int64) (*Blob, error) {
	location := u.String()
	if f.S3 == nil {
		return nil, loadErr(Unreadable, location, errors.New("s3 client not configured"))
	}
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, loadErr(Unreadable, location, errors.New("s3 location must be s3://bucket/key"))
	}

	out, err := f.S3.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, loadErr(NotFound, location, err)
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchBucket" || apiErr.ErrorCode() == "NotFound") {
			return nil, loadErr(NotFound, location, err)
		}
		return nil, loadErr(Unreadable, location, fmt.Errorf("get object: %w", err))
	}
	defer out.Body.Close()

	if size := aws.ToInt64(out.ContentLength); maxBytes > 0 && size > maxBytes {
		return nil, loadErr(TooLarge, location, fmt.Errorf("object size %d exceeds %d", size, maxBytes))
	}

	data, err := readLimited(out.Body, maxBytes)
	if err != nil {
		if errors.Is(err, errTooLarge) {
			return nil, loadErr(TooLarge, location, err)
		}
		return nil, loadErr(Unreadable, location, fmt.Errorf("read object: %w", err))
	}

	return &Blob{Data: data, ContentType: aws.ToString(out.ContentType), Name: path.Base(key)}, nil
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Log != nil {
		return f.Log
	}
	return slog.New(slog.DiscardHandler)
}

// readLimited reads r fully, failing with errTooLarge once more than max
// bytes arrive. A non-positive max disables the limit.
func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, errTooLarge
	}
	return data, nil
}
