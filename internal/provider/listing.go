package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	slurphttp "github.com/ligustah/bucketslurp/internal/http"
)

// protocol describes how one family of providers lists and serves objects.
type protocol struct {
	// cursorParam is the query parameter carrying the page cursor.
	cursorParam string

	// omitEmpty drops empty prefix/cursor parameters instead of sending
	// them with empty values.
	omitEmpty bool

	// listQuery holds fixed query parameters for listing requests.
	listQuery url.Values

	// escapeSlash encodes "/" inside object keys as %2F.
	escapeSlash bool

	decode decodeFunc
}

var (
	// Aliyun OSS, Tencent COS: marker pagination over S3-style XML.
	markerXML = protocol{
		cursorParam: "marker",
		decode:      decodeS3XML,
	}

	// Huawei OBS is markerXML but only sends parameters that are set.
	obsXML = protocol{
		cursorParam: "marker",
		omitEmpty:   true,
		decode:      decodeS3XML,
	}

	azureXML = protocol{
		cursorParam: "marker",
		listQuery:   url.Values{"restype": {"container"}, "comp": {"list"}},
		decode:      decodeAzureXML,
	}

	gcsJSON = protocol{
		cursorParam: "pageToken",
		escapeSlash: true,
		decode:      decodeGCS,
	}

	b2JSON = protocol{
		cursorParam: "startFileName",
		decode:      decodeB2,
	}

	// IBM COS, DigitalOcean Spaces and Oracle Object Storage.
	genericS3 = protocol{
		cursorParam: "marker",
		decode:      decodeGeneric,
	}
)

// httpAdapter implements Adapter for every provider that is listed with
// plain HTTP GETs.
type httpAdapter struct {
	module   string
	bucket   string
	proto    protocol
	client   *slurphttp.Client
	maxPages int

	// listBase is the listing endpoint; objectBase the URL objects are
	// relative to. Both carry no list-only query parameters.
	listBase   *url.URL
	objectBase *url.URL

	// objectQuery is appended to every object URL.
	objectQuery url.Values

	header http.Header
}

func newHTTPAdapter(t Target, proto protocol, d Deps) (*httpAdapter, error) {
	if d.HTTP == nil {
		return nil, fmt.Errorf("provider %s: http client is required", t.Module)
	}
	u, err := parseTarget(t.URL)
	if err != nil {
		return nil, err
	}

	return &httpAdapter{
		module:      t.Module,
		bucket:      t.BucketName(),
		proto:       proto,
		client:      d.HTTP,
		maxPages:    d.maxPages(),
		listBase:    u,
		objectBase:  u,
		objectQuery: url.Values{},
		header:      http.Header{},
	}, nil
}

func parseTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q needs a scheme and host", ErrInvalidTarget, raw)
	}
	return u, nil
}

func (a *httpAdapter) Module() string { return a.module }

func (a *httpAdapter) Bucket() string { return a.bucket }

// List walks the listing pages sequentially.
func (a *httpAdapter) List(ctx context.Context, prefix string) ([]Object, error) {
	log := zerolog.Ctx(ctx)

	var (
		all    []Object
		cursor string
		// repeat is set when the page at cursor starts with the record
		// the cursor was taken from.
		repeat bool
	)

	for pages := 0; ; pages++ {
		if pages >= a.maxPages {
			log.Warn().
				Str("url", a.listBase.String()).
				Int("pages", pages).
				Msg("listing stopped at page limit")
			return all, nil
		}

		listURL := a.listURL(prefix, cursor)
		p, err := a.fetchPage(ctx, listURL)
		if err != nil {
			log.Warn().
				Str("url", listURL).
				Int("status", slurphttp.StatusCode(err)).
				Err(err).
				Msg("listing objects failed")
			return all, fmt.Errorf("list %s: %w", a.listBase.Redacted(), err)
		}

		objects, records := p.objects, p.records
		if repeat && len(objects) > 0 && objects[0].Key == cursor {
			objects = objects[1:]
			records--
		}
		all = append(all, objects...)

		if p.next == "" || records <= 0 || p.next == cursor {
			return all, nil
		}
		cursor, repeat = p.next, p.inclusive
	}
}

func (a *httpAdapter) fetchPage(ctx context.Context, listURL string) (page, error) {
	resp, err := a.client.Get(ctx, listURL, a.header)
	if err != nil {
		return page{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return page{}, fmt.Errorf("read listing: %w", err)
	}
	return a.proto.decode(ctx, body, resp.ContentType)
}

func (a *httpAdapter) listURL(prefix, cursor string) string {
	u := *a.listBase
	q := u.Query()
	for k, vs := range a.proto.listQuery {
		q[k] = vs
	}
	setParam(q, "prefix", prefix, a.proto.omitEmpty)
	setParam(q, a.proto.cursorParam, cursor, a.proto.omitEmpty)
	u.RawQuery = q.Encode()
	return u.String()
}

func setParam(q url.Values, key, value string, omitEmpty bool) {
	if value == "" && omitEmpty {
		return
	}
	q.Set(key, value)
}

// ObjectURL returns <object base>/<escaped key>, keeping any query the
// bucket URL carried (SAS tokens, for example).
func (a *httpAdapter) ObjectURL(key string) string {
	u := *a.objectBase
	escaped := escapeKey(key)
	if a.proto.escapeSlash {
		escaped = url.PathEscape(key)
	}
	base := strings.TrimRight(u.EscapedPath(), "/")
	u.RawPath = base + "/" + escaped
	p, err := url.PathUnescape(u.RawPath)
	if err != nil {
		p = strings.TrimRight(u.Path, "/") + "/" + key
	}
	u.Path = p

	q := u.Query()
	for k, vs := range a.objectQuery {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Download streams the object into w in 8 KiB chunks.
func (a *httpAdapter) Download(ctx context.Context, key string, w io.Writer) error {
	objectURL := a.ObjectURL(key)
	resp, err := a.client.Get(ctx, objectURL, a.header)
	if err != nil {
		return fmt.Errorf("download %s: %w", objectURL, err)
	}
	defer resp.Body.Close()

	buf := make([]byte, downloadBufferSize)
	if _, err := io.CopyBuffer(w, resp.Body, buf); err != nil {
		return fmt.Errorf("download %s: %w", objectURL, err)
	}
	return nil
}

// newMarkerXML builds the Aliyun OSS and Tencent COS adapters.
func newMarkerXML(_ context.Context, t Target, d Deps) (Adapter, error) {
	return newHTTPAdapter(t, markerXML, d)
}

func newOBS(_ context.Context, t Target, d Deps) (Adapter, error) {
	return newHTTPAdapter(t, obsXML, d)
}

func newGenericS3(_ context.Context, t Target, d Deps) (Adapter, error) {
	return newHTTPAdapter(t, genericS3, d)
}

// newAzure strips list-only parameters from the container URL so object
// URLs point at blobs.
func newAzure(_ context.Context, t Target, d Deps) (Adapter, error) {
	a, err := newHTTPAdapter(t, azureXML, d)
	if err != nil {
		return nil, err
	}
	base := *a.listBase
	q := base.Query()
	q.Del("restype")
	q.Del("comp")
	base.RawQuery = q.Encode()
	a.listBase = &base
	a.objectBase = &base
	return a, nil
}

func newB2(_ context.Context, t Target, d Deps) (Adapter, error) {
	a, err := newHTTPAdapter(t, b2JSON, d)
	if err != nil {
		return nil, err
	}
	if token := d.Credentials.B2.AuthorizationToken; token != "" {
		a.header.Set("Authorization", token)
	}
	return a, nil
}

// newGCS lists through the JSON API at <scheme://host>/storage/v1/b/<bucket>/o
// and downloads with alt=media.
func newGCS(_ context.Context, t Target, d Deps) (Adapter, error) {
	a, err := newHTTPAdapter(t, gcsJSON, d)
	if err != nil {
		return nil, err
	}

	bucket, host := a.bucket, a.listBase.Host
	path := strings.Trim(a.listBase.Path, "/")
	if vb, ok := gcsHostBucket(a.listBase.Hostname()); ok {
		bucket, host = vb, gcsAPIHost
	} else if rest, ok := strings.CutPrefix(path, "storage/v1/b/"); ok {
		bucket = strings.SplitN(rest, "/", 2)[0]
	}
	a.bucket = sanitizeName(bucket)

	api := &url.URL{
		Scheme: a.listBase.Scheme,
		Host:   host,
		Path:   "/storage/v1/b/" + bucket + "/o",
	}
	if project := d.Credentials.GCS.UserProject; project != "" {
		api.RawQuery = url.Values{"userProject": {project}}.Encode()
	}
	a.listBase = api
	a.objectBase = api
	a.objectQuery.Set("alt", "media")
	return a, nil
}

const gcsAPIHost = "storage.googleapis.com"

// gcsHostBucket returns the bucket of a virtual-hosted GCS name such as
// mybucket.storage.googleapis.com. Those hosts only serve the XML API.
func gcsHostBucket(host string) (string, bool) {
	host = strings.ToLower(host)
	if host == gcsAPIHost || host == "www.googleapis.com" || !strings.HasSuffix(host, ".googleapis.com") {
		return "", false
	}
	if bucket, ok := strings.CutSuffix(host, "."+gcsAPIHost); ok {
		return bucket, true
	}
	return strings.SplitN(host, ".", 2)[0], true
}
