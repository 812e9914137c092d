package backend

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// s3Provider speaks the S3 API, selected when the configured base URL has
// an s3:// scheme (many GEFS-array hosts, e.g. Supabase Storage, MinIO, or
// Cloudflare R2, expose an S3-compatible endpoint alongside their native
// REST API).
type s3Provider struct {
	svc    *s3.S3
	bucket string
}

var _ Provider = (*s3Provider)(nil)

// NewS3 parses an "s3://bucket[.endpoint]" style base URL and builds a
// client against it. endpoint, when present, overrides the default AWS
// endpoint resolution so S3-compatible (non-AWS) hosts work unmodified.
func NewS3(baseURL string) (Provider, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	bucket := strings.TrimPrefix(u.Path, "/")
	cfg := aws.NewConfig().WithRegion("us-east-1")
	if u.Host != "" {
		cfg = cfg.WithEndpoint("https://" + u.Host).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	return &s3Provider{svc: s3.New(sess), bucket: bucket}, nil
}

func (p *s3Provider) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	out, err := p.svc.ListObjectsWithContext(ctx, &s3.ListObjectsInput{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, err
	}
	infos := make([]ObjectInfo, 0, len(out.Contents))
	for _, o := range out.Contents {
		infos = append(infos, ObjectInfo{
			Name:         aws.StringValue(o.Key),
			SizeB:        aws.Int64Value(o.Size),
			LastModified: aws.TimeValue(o.LastModified),
		})
	}
	return infos, nil
}

func (p *s3Provider) Fetch(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	out, err := p.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return nil, 0, err
	}
	return out.Body, aws.Int64Value(out.ContentLength), nil
}

func (p *s3Provider) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	_, err = p.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(name),
		Body:          bytes.NewReader(buf),
		ContentLength: aws.Int64(size),
	})
	return err
}

func (p *s3Provider) Delete(ctx context.Context, name string) error {
	_, err := p.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(name),
	})
	return err
}
