// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cacheclient

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bureau-foundation/cachepush/lib/config"
	"github.com/bureau-foundation/cachepush/lib/netutil"
	"github.com/bureau-foundation/cachepush/lib/version"
)

// Request headers describing the payload.
const (
	HeaderStorePath = "X-Store-Path"
	HeaderNarHash   = "X-Nar-Hash"
	HeaderNarSize   = "X-Nar-Size"

	narContentType = "application/x-nix-archive"
)

type httpTransport struct {
	name        string
	cacheURL    string
	compression string
	client      *http.Client
	archiver    Archiver
	spool       string
}

func newHTTPTransport(target config.CacheTarget, endpoint *url.URL, options Options) *httpTransport {
	return &httpTransport{
		name:        target.Name,
		cacheURL:    endpoint.JoinPath("cache", target.Name).String(),
		compression: target.Compression,
		client:      options.HTTPClient,
		archiver:    options.Archiver,
		spool:       options.SpoolDirectory,
	}
}

func (t *httpTransport) push(ctx context.Context, storePath string, token []byte) (Ack, error) {
	body, err := preparePayload(ctx, t.archiver, storePath, t.compression, t.spool)
	if err != nil {
		// The local store could not produce the path. Another attempt
		// will not change that unless the context was the cause.
		if ctx.Err() != nil {
			return Ack{}, &Error{Class: Unreachable, Cache: t.name, Err: err}
		}
		return Ack{}, &Error{Class: ClientError, Cache: t.name, Err: err}
	}
	defer body.Close()

	request, err := http.NewRequestWithContext(ctx, http.MethodPut, t.cacheURL, body.file)
	if err != nil {
		return Ack{}, &Error{Class: ClientError, Cache: t.name, Err: err}
	}
	request.ContentLength = body.size
	t.authorize(request, token)
	request.Header.Set("Content-Type", narContentType)
	if encoding := body.contentEncoding(); encoding != "" {
		request.Header.Set("Content-Encoding", encoding)
	}
	request.Header.Set(HeaderStorePath, storePath)
	request.Header.Set(HeaderNarHash, body.narHash)
	request.Header.Set(HeaderNarSize, strconv.FormatInt(body.narSize, 10))

	response, err := t.client.Do(request)
	if err != nil {
		return Ack{}, t.transportError(err)
	}
	defer response.Body.Close()

	if class, ok := ClassifyStatus(response.StatusCode); !ok {
		return Ack{}, &Error{
			Class:      class,
			Cache:      t.name,
			StatusCode: response.StatusCode,
			Detail:     netutil.ErrorBody(response.Body),
		}
	}

	return Ack{
		CacheName:  t.name,
		StorePath:  storePath,
		StatusCode: response.StatusCode,
		NarHash:    body.narHash,
		NarSize:    body.narSize,
		UploadSize: body.size,
		Location:   t.cacheURL,
	}, nil
}

// probe issues an authenticated GET. Caches may answer with a JSON
// description; anything else is accepted as long as the status is 2xx.
func (t *httpTransport) probe(ctx context.Context, token []byte) (ReachabilityInfo, error) {
	info := ReachabilityInfo{CacheName: t.name, Endpoint: t.cacheURL}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cacheURL, nil)
	if err != nil {
		return info, &Error{Class: ClientError, Cache: t.name, Err: err}
	}
	t.authorize(request, token)
	request.Header.Set("Accept", "application/json")

	response, err := t.client.Do(request)
	if err != nil {
		return info, t.transportError(err)
	}
	defer response.Body.Close()
	info.StatusCode = response.StatusCode

	if class, ok := ClassifyStatus(response.StatusCode); !ok {
		return info, &Error{
			Class:      class,
			Cache:      t.name,
			StatusCode: response.StatusCode,
			Detail:     netutil.ErrorBody(response.Body),
		}
	}

	if mediaType, _, _ := mime.ParseMediaType(response.Header.Get("Content-Type")); mediaType == "application/json" {
		var description struct {
			StoreDir string `json:"store_dir"`
		}
		if err := netutil.DecodeResponse(response.Body, &description); err != nil {
			return info, &Error{Class: ServerError, Cache: t.name, StatusCode: response.StatusCode,
				Err: fmt.Errorf("decoding cache description: %w", err)}
		}
		info.StoreDir = description.StoreDir
	}
	return info, nil
}

// authorize sets the request's credentials. net/http only takes string
// header values, so the token is copied into memory the caller's
// secret.Buffer cannot zero. Zeroing stops at this boundary.
func (t *httpTransport) authorize(request *http.Request, token []byte) {
	request.Header.Set("Authorization", "Bearer "+string(token))
	request.Header.Set("User-Agent", version.UserAgent())
}

// transportError wraps a failure that produced no HTTP response.
func (t *httpTransport) transportError(err error) error {
	var urlError *url.Error
	if errors.As(err, &urlError) {
		// url.Error repeats the full URL; the cache name already
		// identifies the target.
		err = urlError.Err
	}
	return &Error{Class: Unreachable, Cache: t.name, Err: err}
}
