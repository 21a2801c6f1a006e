// Package objstore lists project folders in the object store bucket
// that holds the migrated document tree.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Folder is one top-level project directory under the bucket root.
type Folder struct {
	// Name is the bare folder name, e.g. "Smith Co 4521".
	Name string
	// Prefix is the full key prefix including the trailing slash,
	// e.g. "docs/Harwell Legal/Smith Co 4521/".
	Prefix string
}

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, input *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Store lists folders and checks objects in one bucket.
type Store struct {
	client   S3API
	bucket   string
	root     string
	region   string
	endpoint string
}

// Option configures a Store.
type Option func(*Store)

// WithClient sets a custom S3 client (useful for testing).
func WithClient(c S3API) Option {
	return func(s *Store) { s.client = c }
}

// WithRegion overrides the region from the default credential chain.
func WithRegion(region string) Option {
	return func(s *Store) { s.region = region }
}

// WithEndpoint points the client at an S3-compatible endpoint.
func WithEndpoint(endpoint string) Option {
	return func(s *Store) { s.endpoint = endpoint }
}

// New creates a Store for the bucket. root is the key prefix under
// which project folders live, without a trailing slash.
func New(ctx context.Context, bucket, root string, opts ...Option) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name required")
	}
	s := &Store{
		bucket: bucket,
		root:   strings.Trim(root, "/"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if s.region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(s.region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		s.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			if s.endpoint != "" {
				o.BaseEndpoint = aws.String(s.endpoint)
				o.UsePathStyle = true
			}
		})
	}
	return s, nil
}

// ListFolders returns every folder directly under the root prefix,
// following pagination. Delimiter listing means only one request per
// thousand folders regardless of how many objects they contain.
func (s *Store) ListFolders(ctx context.Context) ([]Folder, error) {
	prefix := s.root
	if prefix != "" {
		prefix += "/"
	}

	var out []Folder
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}

	for {
		page, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("listing %s/%s: %w", s.bucket, prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			if cp.Prefix == nil {
				continue
			}
			name := strings.TrimSuffix(strings.TrimPrefix(*cp.Prefix, prefix), "/")
			if name == "" {
				continue
			}
			out = append(out, Folder{Name: name, Prefix: *cp.Prefix})
		}
		if page.IsTruncated == nil || !*page.IsTruncated {
			break
		}
		input.ContinuationToken = page.NextContinuationToken
	}
	return out, nil
}

// ObjectExists reports whether a key is present in the bucket.
func (s *Store) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, fmt.Errorf("heading %s/%s: %w", s.bucket, key, err)
}
