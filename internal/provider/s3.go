package provider

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

const defaultS3Region = "us-east-1"

// s3Adapter lists and downloads through the AWS SDK.
type s3Adapter struct {
	module   string
	bucket   string
	client   *s3.Client
	maxPages int
}

// newS3 builds an SDK client for the target. Amazon hosts are addressed by
// region; any other host is treated as an S3-compatible endpoint using
// path-style requests.
func newS3(ctx context.Context, t Target, d Deps) (Adapter, error) {
	u, err := parseTarget(t.URL)
	if err != nil {
		return nil, err
	}
	creds := d.Credentials.S3

	bucket, endpoint := s3Location(u)
	if creds.Endpoint != "" {
		endpoint = creds.Endpoint
	}
	region := creds.Region
	if region == "" {
		region = regionFromHost(u.Hostname())
	}

	var provider aws.CredentialsProvider = aws.AnonymousCredentials{}
	if creds.AccessKeyID != "" {
		provider = credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(provider),
	}
	if d.HTTP != nil {
		loadOpts = append(loadOpts, awsconfig.WithHTTPClient(d.HTTP.HTTPClient()))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
		if creds.UsePathStyle {
			o.UsePathStyle = true
		}
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	zerolog.Ctx(ctx).Debug().
		Str("bucket", bucket).
		Str("region", region).
		Str("endpoint", endpoint).
		Msg("created s3 client")

	return &s3Adapter{
		module:   t.Module,
		bucket:   bucket,
		client:   client,
		maxPages: d.maxPages(),
	}, nil
}

// s3Location extracts the bucket name and, for non-Amazon hosts, the
// endpoint from a bucket URL. Supported forms:
//
//	s3://bucket
//	https://bucket.s3.<region>.amazonaws.com
//	https://s3.<region>.amazonaws.com/bucket
//	http://minio.local:9000/bucket
func s3Location(u *url.URL) (bucket, endpoint string) {
	if u.Scheme == "s3" {
		return u.Host, ""
	}

	host := u.Hostname()
	path := strings.Trim(u.Path, "/")
	first := strings.SplitN(path, "/", 2)[0]

	if !strings.HasSuffix(host, ".amazonaws.com") {
		return first, u.Scheme + "://" + u.Host
	}
	if i := strings.Index(host, ".s3"); i > 0 {
		return host[:i], ""
	}
	return first, ""
}

// regionFromHost reads the region from hosts like s3.eu-west-1.amazonaws.com
// or s3-eu-west-1.amazonaws.com.
func regionFromHost(host string) string {
	labels := strings.Split(strings.TrimSuffix(host, ".amazonaws.com"), ".")
	for i, l := range labels {
		next := ""
		if i+1 < len(labels) {
			next = labels[i+1]
		}
		if next == "dualstack" && i+2 < len(labels) {
			next = labels[i+2]
		}
		switch {
		case l == "s3" || l == "s3-website":
			if next != "" {
				return next
			}
		case l == "s3-accelerate":
		case strings.HasPrefix(l, "s3-website-"):
			return strings.TrimPrefix(l, "s3-website-")
		case strings.HasPrefix(l, "s3-"):
			return strings.TrimPrefix(l, "s3-")
		}
	}
	return defaultS3Region
}

func (a *s3Adapter) Module() string { return a.module }

func (a *s3Adapter) Bucket() string { return sanitizeName(a.bucket) }

func (a *s3Adapter) List(ctx context.Context, prefix string) ([]Object, error) {
	log := zerolog.Ctx(ctx)

	input := &s3.ListObjectsV2Input{Bucket: aws.String(a.bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var all []Object
	paginator := s3.NewListObjectsV2Paginator(a.client, input)
	for pages := 0; paginator.HasMorePages(); pages++ {
		if pages >= a.maxPages {
			log.Warn().
				Str("bucket", a.bucket).
				Int("pages", pages).
				Msg("listing stopped at page limit")
			return all, nil
		}

		out, err := paginator.NextPage(ctx)
		if err != nil {
			log.Warn().
				Str("bucket", a.bucket).
				Err(err).
				Msg("listing objects failed")
			return all, fmt.Errorf("list s3://%s: %w", a.bucket, err)
		}

		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || obj.Size == nil || *obj.Size < 0 {
				log.Warn().Str("key", key).Msg("skipping listing entry with missing key or size")
				continue
			}
			all = append(all, Object{Key: key, Size: uint64(*obj.Size)})
		}
		if len(out.Contents) == 0 {
			return all, nil
		}
	}
	return all, nil
}

func (a *s3Adapter) Download(ctx context.Context, key string, w io.Writer) error {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download %s: %w", a.ObjectURL(key), err)
	}
	defer out.Body.Close()

	buf := make([]byte, downloadBufferSize)
	if _, err := io.CopyBuffer(w, out.Body, buf); err != nil {
		return fmt.Errorf("download %s: %w", a.ObjectURL(key), err)
	}
	return nil
}

func (a *s3Adapter) ObjectURL(key string) string {
	return "s3://" + a.bucket + "/" + key
}

var (
	_ Adapter = (*s3Adapter)(nil)
	_ Adapter = (*httpAdapter)(nil)
)
