package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"gopkg.in/yaml.v3"
)

// S3Options configure the S3 client used for s3:// checkpoint roots.
type S3Options struct {
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
}

// s3API is the subset of *s3.Client used by S3Store.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

func newS3Client(ctx context.Context, o S3Options) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if o.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(o.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if o.AccessKeyID != "" {
		cfg.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(o.AccessKeyID, o.SecretAccessKey, ""),
		)
	}
	return s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
		}
		so.UsePathStyle = o.PathStyle
	}), nil
}

// parseS3URL splits s3://bucket/prefix.
func parseS3URL(u string) (bucket, prefix string, ok bool) {
	rest, found := strings.CutPrefix(u, "s3://")
	if !found || rest == "" {
		return "", "", false
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	return bucket, strings.Trim(prefix, "/"), bucket != ""
}

// S3Store keeps checkpoints in a bucket using the FileStore key layout
// under prefix. Locations are s3://bucket/prefix/ts_<n> URLs.
type S3Store struct {
	client s3API
	bucket string
	prefix string
	rank   int
}

func NewS3Store(client s3API, bucket, prefix string, rank int) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/"), rank: rank}
}

func (s *S3Store) location(key string) string {
	return "s3://" + s.bucket + "/" + key
}

func (s *S3Store) stepKey(timestep int) string {
	return path.Join(s.prefix, stepDir(timestep))
}

func (s *S3Store) put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	return err
}

func (s *S3Store) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3Store) Write(ctx context.Context, snap Snapshot) (string, error) {
	dir := s.stepKey(snap.Timestep)
	loc := s.location(dir)

	if err := s.put(ctx, path.Join(dir, payloadName(s.rank)), snap.Payload); err != nil {
		return "", &StoreError{Op: "write", Location: loc, Err: err}
	}
	manifest, err := yaml.Marshal(&snap)
	if err != nil {
		return "", &StoreError{Op: "write", Location: loc, Err: err}
	}
	if err := s.put(ctx, path.Join(dir, manifestName(s.rank)), manifest); err != nil {
		return "", &StoreError{Op: "write", Location: loc, Err: err}
	}
	return loc, nil
}

func (s *S3Store) Read(ctx context.Context, location string) (Snapshot, error) {
	bucket, dir, ok := parseS3URL(location)
	if !ok || bucket != s.bucket {
		return Snapshot{}, &StoreError{Op: "read", Location: location, Err: fmt.Errorf("not a location in bucket %q", s.bucket)}
	}

	snap, err := s.manifest(ctx, dir)
	if err != nil {
		return Snapshot{}, &StoreError{Op: "read", Location: location, Err: err}
	}
	snap.Payload, err = s.get(ctx, path.Join(dir, payloadName(s.rank)))
	if err != nil {
		return Snapshot{}, &StoreError{Op: "read", Location: location, Err: err}
	}
	return snap, nil
}

// manifest decodes this rank's manifest under dir without its payload.
func (s *S3Store) manifest(ctx context.Context, dir string) (Snapshot, error) {
	raw, err := s.get(ctx, path.Join(dir, manifestName(s.rank)))
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := yaml.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("invalid manifest: %w", err)
	}
	return snap, nil
}

func (s *S3Store) Latest(ctx context.Context) (string, error) {
	prefix := s.prefix
	if prefix != "" {
		prefix += "/"
	}

	written := make(map[int]map[int]bool)
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return "", &StoreError{Op: "latest", Location: s.location(s.prefix), Err: err}
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			r, ok := parseManifestName(key)
			if !ok {
				continue
			}
			n, ok := parseStepDir(path.Dir(key))
			if !ok || path.Dir(key) != s.stepKey(n) {
				continue
			}
			if written[n] == nil {
				written[n] = make(map[int]bool)
			}
			written[n][r] = true
		}
	}

	best, err := latestComplete(written, s.rank, func(ts int) (int, error) {
		snap, err := s.manifest(ctx, s.stepKey(ts))
		return snap.Ranks, err
	})
	if err != nil {
		return "", &StoreError{Op: "latest", Location: s.location(s.prefix), Err: err}
	}
	if best < 0 {
		return "", &StoreError{Op: "latest", Location: s.location(s.prefix), Err: ErrNotFound}
	}
	return s.location(s.stepKey(best)), nil
}
