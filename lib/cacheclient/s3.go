// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cacheclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/bureau-foundation/cachepush/lib/config"
	"github.com/bureau-foundation/cachepush/lib/nix"
)

// defaultS3Region is used for signing when neither the target nor the
// environment names a region. S3-compatible stores generally accept
// any region.
const defaultS3Region = "us-east-1"

// loadAWSConfig is replaced in tests so no shared AWS configuration
// or instance metadata is consulted.
var loadAWSConfig = awsconfig.LoadDefaultConfig

type s3Transport struct {
	name        string
	bucket      string
	prefix      string
	compression string
	client      *s3.Client
	archiver    Archiver
	spool       string
}

// newS3Transport builds a client for s3://bucket[/prefix]. The client
// carries no credentials of its own: each request is signed with the
// token passed to push or probe, formatted ACCESS_KEY_ID:SECRET_KEY.
func newS3Transport(ctx context.Context, target config.CacheTarget, endpoint *url.URL, options Options) (*s3Transport, error) {
	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}),
		// The worker pool owns retries and backoff.
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
		awsconfig.WithHTTPClient(options.HTTPClient),
	}
	if target.Region != "" {
		loadOptions = append(loadOptions, awsconfig.WithRegion(target.Region))
	}
	awsConfig, err := loadAWSConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	if awsConfig.Region == "" {
		awsConfig.Region = defaultS3Region
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if target.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(target.S3Endpoint)
			o.UsePathStyle = true
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &s3Transport{
		name:        target.Name,
		bucket:      endpoint.Host,
		prefix:      strings.Trim(endpoint.Path, "/"),
		compression: target.Compression,
		client:      client,
		archiver:    options.Archiver,
		spool:       options.SpoolDirectory,
	}, nil
}

func (t *s3Transport) push(ctx context.Context, storePath string, token []byte) (Ack, error) {
	signer, err := t.credentials(token)
	if err != nil {
		return Ack{}, err
	}

	body, err := preparePayload(ctx, t.archiver, storePath, t.compression, t.spool)
	if err != nil {
		if ctx.Err() != nil {
			return Ack{}, &Error{Class: Unreachable, Cache: t.name, Err: err}
		}
		return Ack{}, &Error{Class: ClientError, Cache: t.name, Err: err}
	}
	defer body.Close()

	key := t.objectKey(storePath)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(t.bucket),
		Key:           aws.String(key),
		Body:          body.file,
		ContentLength: aws.Int64(body.size),
		ContentType:   aws.String(narContentType),
		Metadata: map[string]string{
			"store-path": storePath,
			"nar-hash":   body.narHash,
			"nar-size":   strconv.FormatInt(body.narSize, 10),
		},
	}
	if encoding := body.contentEncoding(); encoding != "" {
		input.ContentEncoding = aws.String(encoding)
	}

	if _, err := t.client.PutObject(ctx, input, signer); err != nil {
		return Ack{}, t.classify(ctx, err)
	}
	return Ack{
		CacheName:  t.name,
		StorePath:  storePath,
		NarHash:    body.narHash,
		NarSize:    body.narSize,
		UploadSize: body.size,
		Location:   "s3://" + t.bucket + "/" + key,
	}, nil
}

// probe checks that the bucket exists and the credentials may use it.
func (t *s3Transport) probe(ctx context.Context, token []byte) (ReachabilityInfo, error) {
	info := ReachabilityInfo{CacheName: t.name, Endpoint: "s3://" + t.bucket}
	signer, err := t.credentials(token)
	if err != nil {
		return info, err
	}
	if _, err := t.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(t.bucket)}, signer); err != nil {
		classified := t.classify(ctx, err)
		var cacheError *Error
		if errors.As(classified, &cacheError) {
			info.StatusCode = cacheError.StatusCode
		}
		return info, classified
	}
	info.StatusCode = 200
	return info, nil
}

// credentials returns a per-operation option signing with token. The
// SDK holds keys as strings, so the copies made here outlive the
// caller's secret.Buffer and are not zeroed when it closes.
func (t *s3Transport) credentials(token []byte) (func(*s3.Options), error) {
	accessKey, secretKey, ok := strings.Cut(string(token), ":")
	if !ok || accessKey == "" || secretKey == "" {
		return nil, &Error{Class: Unauthorized, Cache: t.name,
			Detail: "token is not in ACCESS_KEY_ID:SECRET_ACCESS_KEY form"}
	}
	provider := credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
	return func(o *s3.Options) {
		o.Credentials = provider
	}, nil
}

// objectKey is [prefix/]cache/<name>/<hash><extension>. Paths outside
// a Nix store fall back to their sanitized base name.
func (t *s3Transport) objectKey(storePath string) string {
	stem, err := nix.HashPart(storePath)
	if err != nil {
		stem = strings.ReplaceAll(strings.Trim(storePath, "/"), "/", "_")
	}
	key := path.Join("cache", t.name, stem+fileExtension(t.compression))
	if t.prefix != "" {
		key = t.prefix + "/" + key
	}
	return key
}

// classify maps an SDK error to a Class using the HTTP status when the
// service answered, and Unreachable when it did not.
func (t *s3Transport) classify(ctx context.Context, err error) error {
	var withStatus interface{ HTTPStatusCode() int }
	if ctx.Err() != nil || !errors.As(err, &withStatus) {
		return &Error{Class: Unreachable, Cache: t.name, Err: err}
	}
	statusCode := withStatus.HTTPStatusCode()
	class, ok := ClassifyStatus(statusCode)
	if ok {
		// A 2xx status that still failed is a response the SDK could
		// not parse.
		class = ServerError
	}
	cacheError := &Error{Class: class, Cache: t.name, StatusCode: statusCode}
	var apiError smithy.APIError
	if errors.As(err, &apiError) {
		cacheError.Detail = apiError.ErrorCode()
		if message := apiError.ErrorMessage(); message != "" {
			cacheError.Detail += ": " + message
		}
	} else {
		cacheError.Err = err
	}
	return cacheError
}
