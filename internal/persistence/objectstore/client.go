// Package objectstore uploads finished trajectory segments and exports to an
// S3-compatible bucket (R2, MinIO, S3) with SigV4-signed PUTs.
package objectstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

const (
	sigV4Algorithm = "AWS4-HMAC-SHA256"
	sigV4Service   = "s3"
)

type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

type Client struct {
	endpoint   string
	bucket     string
	region     string
	creds      Credentials
	httpClient *http.Client
	now        func() time.Time
}

// New returns a client for bucket at endpoint. An empty region signs for
// "auto", which is what R2 expects.
func New(endpoint, bucket, region string, creds Credentials) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	bucket = strings.TrimSpace(bucket)
	region = strings.TrimSpace(region)
	creds.AccessKeyID = strings.TrimSpace(creds.AccessKeyID)
	creds.SecretAccessKey = strings.TrimSpace(creds.SecretAccessKey)

	if endpoint == "" || bucket == "" || creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return nil, fmt.Errorf("endpoint, bucket and credentials are required")
	}
	if region == "" {
		region = "auto"
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint: %s", endpoint)
	}

	base := strings.TrimRight(u.String(), "/")
	return &Client{
		endpoint:   base,
		bucket:     bucket,
		region:     region,
		creds:      creds,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		now:        time.Now,
	}, nil
}

// PutFile uploads localPath as objectKey. The payload hash is computed up
// front, so the file must not change while it is being sent.
func (c *Client) PutFile(ctx context.Context, objectKey, localPath string) error {
	objectKey = normalizeObjectKey(objectKey)
	if objectKey == "" {
		return fmt.Errorf("empty object key")
	}

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("path is directory: %s", localPath)
	}

	payloadHash, err := fileSHA256Hex(f)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	now := c.now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")

	escapedKey := escapePath(objectKey)
	canonicalURI := "/" + c.bucket + "/" + escapedKey
	requestURL := c.endpoint + canonicalURI

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, requestURL, f)
	if err != nil {
		return err
	}
	host := req.URL.Host
	req.Header.Set("Host", host)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("x-amz-date", amzDate)
	req.Header.Set("Content-Type", contentType(objectKey))
	req.ContentLength = st.Size()

	signedHeaders := "host;x-amz-content-sha256;x-amz-date"
	canonicalHeaders := "host:" + host + "\n" +
		"x-amz-content-sha256:" + payloadHash + "\n" +
		"x-amz-date:" + amzDate + "\n"

	canonicalRequest := strings.Join([]string{
		http.MethodPut,
		canonicalURI,
		"",
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := strings.Join([]string{dateStamp, c.region, sigV4Service, "aws4_request"}, "/")
	stringToSign := strings.Join([]string{
		sigV4Algorithm,
		amzDate,
		scope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	signingKey := deriveSigningKey(c.creds.SecretAccessKey, dateStamp, c.region, sigV4Service)
	signature := hex.EncodeToString(hmacSHA256(signingKey, []byte(stringToSign)))
	auth := fmt.Sprintf(
		"%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		sigV4Algorithm,
		c.creds.AccessKeyID,
		scope,
		signedHeaders,
		signature,
	)
	req.Header.Set("Authorization", auth)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	return &PutError{Status: resp.StatusCode, Key: objectKey, Body: strings.TrimSpace(string(body))}
}

// PutError is a non-2xx answer from the bucket.
type PutError struct {
	Status int
	Key    string
	Body   string
}

func (e *PutError) Error() string {
	return fmt.Sprintf("put %s: status %d: %s", e.Key, e.Status, e.Body)
}

// Retryable reports whether the bucket might accept the same request later.
func (e *PutError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".parquet"):
		return "application/vnd.apache.parquet"
	case strings.HasSuffix(key, ".zst"):
		return "application/zstd"
	case strings.HasSuffix(key, ".lz4"):
		return "application/x-lz4"
	case strings.HasSuffix(key, ".jsonl"):
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}

func normalizeObjectKey(key string) string {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return ""
	}
	clean := path.Clean("/" + key)
	clean = strings.TrimPrefix(clean, "/")
	if clean == "." || strings.HasPrefix(clean, "../") {
		return ""
	}
	return clean
}

func escapePath(p string) string {
	if p == "" {
		return ""
	}
	parts := strings.Split(p, "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	return strings.Join(parts, "/")
}

func fileSHA256Hex(f *os.File) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func deriveSigningKey(secret, date, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(date))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte("aws4_request"))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	_, _ = h.Write(data)
	return h.Sum(nil)
}
