package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// page is one decoded listing response.
type page struct {
	objects []Object
	// next is the cursor for the following request. Empty means done.
	next string
	// inclusive is set when next names a record already on this page, so
	// the following page starts with it again.
	inclusive bool
	// records counts the entries in the response, malformed ones included.
	records int
}

// decodeFunc turns a listing response body into a page. contentType is the
// response Content-Type header.
type decodeFunc func(ctx context.Context, body []byte, contentType string) (page, error)

// Element names are matched without namespaces, so the same structs decode
// Aliyun, Tencent, Huawei (OBS namespace) and S3-style listings.
type xmlListBucketResult struct {
	IsTruncated string          `xml:"IsTruncated"`
	NextMarker  string          `xml:"NextMarker"`
	Contents    []xmlS3Contents `xml:"Contents"`
}

type xmlS3Contents struct {
	Key  string `xml:"Key"`
	Size string `xml:"Size"`
}

func decodeS3XML(ctx context.Context, body []byte, _ string) (page, error) {
	var res xmlListBucketResult
	if err := xml.Unmarshal(body, &res); err != nil {
		return page{}, fmt.Errorf("decode xml listing: %w", err)
	}

	p := page{records: len(res.Contents)}
	for _, c := range res.Contents {
		if obj, ok := newObject(ctx, c.Key, c.Size); ok {
			p.objects = append(p.objects, obj)
		}
	}

	if strings.EqualFold(strings.TrimSpace(res.IsTruncated), "true") {
		p.next = res.NextMarker
		// Without a delimiter S3-compatible stores may omit NextMarker; the
		// last key is the marker then.
		if p.next == "" && len(res.Contents) > 0 {
			p.next = res.Contents[len(res.Contents)-1].Key
		}
	}
	return p, nil
}

type xmlEnumerationResults struct {
	NextMarker string         `xml:"NextMarker"`
	Blobs      []xmlAzureBlob `xml:"Blobs>Blob"`
}

type xmlAzureBlob struct {
	Name string `xml:"Name"`
	Size string `xml:"Properties>Content-Length"`
}

func decodeAzureXML(ctx context.Context, body []byte, _ string) (page, error) {
	var res xmlEnumerationResults
	if err := xml.Unmarshal(body, &res); err != nil {
		return page{}, fmt.Errorf("decode azure listing: %w", err)
	}

	p := page{records: len(res.Blobs)}
	for _, b := range res.Blobs {
		if obj, ok := newObject(ctx, b.Name, b.Size); ok {
			p.objects = append(p.objects, obj)
		}
	}
	p.next = strings.TrimSpace(res.NextMarker)
	return p, nil
}

// jsonSize accepts sizes encoded as JSON numbers or strings (GCS uses
// strings).
type jsonSize struct {
	raw string
}

func (s *jsonSize) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	s.raw = strings.Trim(string(b), `"`)
	return nil
}

type gcsListing struct {
	Items []struct {
		Name string   `json:"name"`
		Size jsonSize `json:"size"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

func decodeGCS(ctx context.Context, body []byte, contentType string) (page, error) {
	if isXML(body, contentType) {
		return decodeS3XML(ctx, body, contentType)
	}

	var res gcsListing
	if err := json.Unmarshal(body, &res); err != nil {
		return page{}, fmt.Errorf("decode gcs listing: %w", err)
	}

	p := page{records: len(res.Items)}
	for _, item := range res.Items {
		if obj, ok := newObject(ctx, item.Name, item.Size.raw); ok {
			p.objects = append(p.objects, obj)
		}
	}
	p.next = res.NextPageToken
	return p, nil
}

type b2Listing struct {
	Files []struct {
		FileName string   `json:"fileName"`
		Size     jsonSize `json:"size"`
	} `json:"files"`
	NextFileName json.RawMessage `json:"nextFileName"`
}

func decodeB2(ctx context.Context, body []byte, _ string) (page, error) {
	var res b2Listing
	if err := json.Unmarshal(body, &res); err != nil {
		return page{}, fmt.Errorf("decode b2 listing: %w", err)
	}

	p := page{records: len(res.Files)}
	for _, f := range res.Files {
		if obj, ok := newObject(ctx, f.FileName, f.Size.raw); ok {
			p.objects = append(p.objects, obj)
		}
	}

	switch {
	case len(res.NextFileName) > 0:
		// null marks the end of the listing.
		var next *string
		if err := json.Unmarshal(res.NextFileName, &next); err != nil {
			return page{}, fmt.Errorf("decode b2 nextFileName: %w", err)
		}
		if next != nil {
			p.next = *next
		}
	case len(res.Files) > 0:
		// startFileName is inclusive, so the last name returned comes back
		// first on the next page.
		p.next = res.Files[len(res.Files)-1].FileName
		p.inclusive = true
	}
	return p, nil
}

type genericListing struct {
	Contents []struct {
		Key  string   `json:"Key"`
		Size jsonSize `json:"Size"`
	} `json:"Contents"`
}

// decodeGeneric handles the S3-compatible stores (IBM, DigitalOcean,
// Oracle). They answer with either a JSON Contents array or S3 XML.
func decodeGeneric(ctx context.Context, body []byte, contentType string) (page, error) {
	if isXML(body, contentType) {
		return decodeS3XML(ctx, body, contentType)
	}

	var res genericListing
	if err := json.Unmarshal(body, &res); err != nil {
		return page{}, fmt.Errorf("decode listing: %w", err)
	}

	p := page{records: len(res.Contents)}
	for _, c := range res.Contents {
		if c.Key != "" {
			p.next = c.Key
		}
		if obj, ok := newObject(ctx, c.Key, c.Size.raw); ok {
			p.objects = append(p.objects, obj)
		}
	}
	return p, nil
}

// newObject validates one listing record. Malformed records are logged and
// reported as !ok.
func newObject(ctx context.Context, key, size string) (Object, bool) {
	log := zerolog.Ctx(ctx)
	if key == "" {
		log.Warn().Str("size", size).Msg("skipping listing entry without key")
		return Object{}, false
	}
	n, err := strconv.ParseUint(strings.TrimSpace(size), 10, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("size", size).Msg("skipping listing entry with missing or invalid size")
		return Object{}, false
	}
	return Object{Key: key, Size: n}, true
}

func isXML(body []byte, contentType string) bool {
	if strings.Contains(contentType, "xml") {
		return true
	}
	return bytes.HasPrefix(bytes.TrimSpace(body), []byte("<"))
}
