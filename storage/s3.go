package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds configuration for S3-compatible storage
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for R2, MinIO, DO Spaces
	AccessKeyID     string
	SecretAccessKey string
}

// PageArchive keeps raw search pages that produced no listings, so the
// extractor for a market can be fixed against the real markup.
type PageArchive struct {
	client *s3.Client
	bucket string
	now    func() time.Time
}

func NewPageArchive(ctx context.Context, cfg S3Config) (*PageArchive, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &PageArchive{
		client: client,
		bucket: cfg.Bucket,
		now:    time.Now,
	}, nil
}

// Store uploads the page under pages/{market}/{date}/{host}-{unix}.html and
// returns the object key.
func (a *PageArchive) Store(ctx context.Context, market, pageURL, html string) (string, error) {
	key := ArchiveKey(market, pageURL, a.now())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader([]byte(html)),
		ContentType: aws.String("text/html; charset=utf-8"),
		Metadata:    map[string]string{"source-url": pageURL},
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return key, nil
}

func ArchiveKey(market, pageURL string, at time.Time) string {
	host := "unknown"
	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		host = strings.TrimPrefix(u.Host, "www.")
	}
	if market == "" {
		market = "unmatched"
	}
	return fmt.Sprintf("pages/%s/%s/%s-%d.html", market, at.UTC().Format("2006-01-02"), host, at.Unix())
}
